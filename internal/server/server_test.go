package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/openclerk/invoicedesk/internal/chat"
	"github.com/openclerk/invoicedesk/internal/config"
	"github.com/openclerk/invoicedesk/internal/docstore"
	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/pipeline"
	"github.com/openclerk/invoicedesk/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestServer(t *testing.T, st store.Store, chats ChatFactory) *Server {
	t.Helper()
	return New(config.ServerConfig{AllowedOrigins: []string{"*"}}, st, nil, chats)
}

func newArchiveTestServer(t *testing.T, st store.Store, archive docstore.Archive) *Server {
	t.Helper()
	return New(config.ServerConfig{AllowedOrigins: []string{"*"}}, st, archive, nil)
}

// fakeArchive records calls and serves canned presigned links.
type fakeArchive struct {
	presigned  []string
	deleted    []string
	presignErr error
}

func (f *fakeArchive) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	return "2025/03/15/abc123-" + name, nil
}

func (f *fakeArchive) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	f.presigned = append(f.presigned, key)
	return "https://docs.example.com/" + key + "?sig=ok", nil
}

func (f *fakeArchive) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func seedInvoice(t *testing.T, st store.Store, vendor, number string, amount float64, items []model.LineItemData) *model.Invoice {
	t.Helper()
	inv, err := st.CreateInvoice(context.Background(), model.Invoice{
		CustomerName:  "Acme Corp",
		VendorName:    vendor,
		InvoiceNumber: number,
		InvoiceDate:   time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		Amount:        amount,
		Currency:      "USD",
		Status:        model.InvoiceStatusProcessed,
	}, items)
	require.NoError(t, err)
	return inv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListInvoicesWithItems(t *testing.T) {
	st := newTestStore(t)
	seedInvoice(t, st, "Widget Supply Co", "INV-100", 250, []model.LineItemData{
		{Description: "Widgets", Amount: 200},
		{Description: "Shipping", Amount: 50},
	})
	srv := newTestServer(t, st, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []invoiceWithItems
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Widget Supply Co", got[0].VendorName)
	require.Len(t, got[0].LineItems, 2)
	assert.Equal(t, "Widgets", got[0].LineItems[0].Description)
}

type failingListStore struct {
	store.Store
}

func (failingListStore) ListInvoices(context.Context, store.ListFilter) ([]model.Invoice, error) {
	return nil, assert.AnError
}

func TestListInvoicesStorageFailure(t *testing.T) {
	srv := newTestServer(t, failingListStore{Store: newTestStore(t)}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUpdateInvoiceMissingID(t *testing.T) {
	st := newTestStore(t)
	inv := seedInvoice(t, st, "Widget Supply Co", "INV-100", 250, nil)
	srv := newTestServer(t, st, nil)

	body := bytes.NewBufferString(`{"vendorName":"Changed"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/invoices", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No mutation happened.
	after, err := st.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget Supply Co", after.VendorName)
}

func TestUpdateInvoicePartialPatch(t *testing.T) {
	st := newTestStore(t)
	inv := seedInvoice(t, st, "Widget Supply Co", "INV-100", 250, []model.LineItemData{
		{Description: "Widgets", Amount: 250},
	})
	srv := newTestServer(t, st, nil)

	body := bytes.NewBufferString(`{"id":"` + inv.ID + `","vendorName":"Gadget Supply Co","amount":300}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/invoices", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var got invoiceWithItems
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Gadget Supply Co", got.VendorName)
	assert.Equal(t, 300.0, got.Amount)
	// Untouched fields survive, items are kept.
	assert.Equal(t, "INV-100", got.InvoiceNumber)
	assert.Equal(t, "Acme Corp", got.CustomerName)
	require.Len(t, got.LineItems, 1)
}

func TestUpdateInvoiceReplacesLineItems(t *testing.T) {
	st := newTestStore(t)
	inv := seedInvoice(t, st, "Widget Supply Co", "INV-100", 250, []model.LineItemData{
		{Description: "Widgets", Amount: 200},
		{Description: "Shipping", Amount: 50},
	})
	srv := newTestServer(t, st, nil)

	body := bytes.NewBufferString(`{"id":"` + inv.ID + `","lineItems":[{"description":"Consolidated","amount":250}]}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/invoices", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var got invoiceWithItems
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, "Consolidated", got.LineItems[0].Description)
}

func TestUpdateInvoiceUnknownID(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), nil)

	body := bytes.NewBufferString(`{"id":"no-such-invoice","vendorName":"X"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/invoices", body))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteInvoice(t *testing.T) {
	st := newTestStore(t)
	inv := seedInvoice(t, st, "Widget Supply Co", "INV-100", 250, []model.LineItemData{
		{Description: "Widgets", Amount: 250},
	})
	srv := newTestServer(t, st, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/invoices/"+inv.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := st.GetInvoice(context.Background(), inv.ID)
	assert.Error(t, err)
	items, err := st.ListLineItems(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeleteInvoiceUnknownID(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/invoices/no-such-invoice", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportInvoices(t *testing.T) {
	st := newTestStore(t)
	seedInvoice(t, st, "Widget Supply Co", "INV-100", 250, []model.LineItemData{
		{Description: "Widgets", Amount: 250},
	})
	srv := newTestServer(t, st, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices/export", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "invoices.xlsx")

	f, err := xlsx.OpenBinary(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)
	assert.Equal(t, "Invoices", f.Sheets[0].Name)
}

// --- chat surface ---

type fakeChatService struct {
	emitter pipeline.Emitter
	events  []model.ProgressEvent
	reply   *chat.Reply
	err     error

	deleteErr error
	deleted   []string
}

func (f *fakeChatService) HandleTurn(ctx context.Context, sess model.Session, turn chat.Turn) (*chat.Reply, error) {
	for _, ev := range f.events {
		f.emitter.Emit(ctx, ev)
	}
	return f.reply, f.err
}

func (f *fakeChatService) Delete(ctx context.Context, sess model.Session, chatID string) error {
	f.deleted = append(f.deleted, chatID)
	return f.deleteErr
}

func fakeChatFactory(svc *fakeChatService) ChatFactory {
	return func(emitter pipeline.Emitter) ChatService {
		svc.emitter = emitter
		return svc
	}
}

// sseEvents parses a server-sent event stream into (event, data) pairs.
func sseEvents(t *testing.T, body string) [][2]string {
	t.Helper()
	var out [][2]string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev, data string
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
		out = append(out, [2]string{ev, data})
	}
	return out
}

func TestChatTurnStreamsProgressAndReply(t *testing.T) {
	svc := &fakeChatService{
		events: []model.ProgressEvent{
			{Type: model.EventProcessingStart, Message: "Processing 1 file(s)"},
			{Type: model.EventExtractionComplete, Message: "Extracted a.pdf"},
		},
		reply: &chat.Reply{
			Message: model.ChatMessage{Role: model.RoleAssistant, Content: "Saved one invoice."},
			Report:  &pipeline.SaveReport{Saved: []model.Invoice{{ID: "inv-1"}}},
		},
	}
	srv := newTestServer(t, newTestStore(t), fakeChatFactory(svc))

	body := bytes.NewBufferString(`{"id":"chat-1","messages":[{"role":"user","content":"process this","attachments":[{"url":"https://files.example.com/a.pdf"}]}]}`)
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req.Header.Set(userHeader, "user-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := sseEvents(t, rec.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, "progress", events[0][0])
	assert.Contains(t, events[0][1], "processing_start")
	assert.Equal(t, "progress", events[1][0])
	assert.Equal(t, "message", events[2][0])
	assert.Contains(t, events[2][1], "Saved one invoice.")
	assert.Equal(t, "report", events[3][0])
	assert.Contains(t, events[3][1], `"saved":1`)
}

func TestChatTurnFailure(t *testing.T) {
	svc := &fakeChatService{err: assert.AnError}
	srv := newTestServer(t, newTestStore(t), fakeChatFactory(svc))

	body := bytes.NewBufferString(`{"messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req.Header.Set(userHeader, "user-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	// Stream already started; the failure arrives as an error event.
	require.Equal(t, http.StatusOK, rec.Code)
	events := sseEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0][0])
	// Internal detail is not surfaced.
	assert.NotContains(t, events[0][1], assert.AnError.Error())
}

func TestChatTurnRequiresIdentity(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), fakeChatFactory(&fakeChatService{}))

	body := bytes.NewBufferString(`{"messages":[{"role":"user","content":"hi"}]}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", body))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatTurnNoUserMessage(t *testing.T) {
	srv := newTestServer(t, newTestStore(t), fakeChatFactory(&fakeChatService{}))

	body := bytes.NewBufferString(`{"messages":[{"role":"assistant","content":"hello"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req.Header.Set(userHeader, "user-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteChat(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	owned, err := st.CreateChat(ctx, model.Chat{UserID: "user-1", Title: "mine"})
	require.NoError(t, err)

	// Real chat service over the store; the model client and processor are
	// not touched by delete.
	factory := func(pipeline.Emitter) ChatService {
		return chat.NewService(st, nil, nil, "", 0)
	}
	srv := newTestServer(t, st, factory)

	do := func(id, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/chat?id="+id, nil)
		if user != "" {
			req.Header.Set(userHeader, user)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	t.Run("missing identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/chat?id="+owned.ID, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, do("", "user-1").Code)
	})

	t.Run("unknown chat", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, do("no-such-chat", "user-1").Code)
	})

	t.Run("another user's chat", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, do(owned.ID, "user-2").Code)
	})

	t.Run("own chat", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(owned.ID, "user-1").Code)
		got, err := st.GetChat(ctx, owned.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func seedArchivedInvoice(t *testing.T, st store.Store, key string) *model.Invoice {
	t.Helper()
	inv, err := st.CreateInvoice(context.Background(), model.Invoice{
		CustomerName:  "Acme Corp",
		VendorName:    "Widget Supply Co",
		InvoiceNumber: "INV-700",
		InvoiceDate:   time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		Amount:        250,
		Currency:      "USD",
		Status:        model.InvoiceStatusProcessed,
		SourceFile: &model.SourceFile{
			Path:        "https://files.example.com/inv.pdf",
			ContentType: "application/pdf",
			Size:        1024,
			ArchiveKey:  key,
		},
	}, nil)
	require.NoError(t, err)
	return inv
}

func TestInvoiceSourceRedirects(t *testing.T) {
	st := newTestStore(t)
	archive := &fakeArchive{}
	srv := newArchiveTestServer(t, st, archive)
	inv := seedArchivedInvoice(t, st, "2025/03/15/abc123-inv.pdf")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices/"+inv.ID+"/source", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://docs.example.com/2025/03/15/abc123-inv.pdf?sig=ok", rec.Header().Get("Location"))
	assert.Equal(t, []string{"2025/03/15/abc123-inv.pdf"}, archive.presigned)
}

func TestInvoiceSourceNotFound(t *testing.T) {
	st := newTestStore(t)
	archive := &fakeArchive{}
	srv := newArchiveTestServer(t, st, archive)

	t.Run("unknown invoice", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices/no-such-id/source", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("no archived source", func(t *testing.T) {
		inv := seedInvoice(t, st, "Widget Supply Co", "INV-701", 100, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices/"+inv.ID+"/source", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("archive disabled", func(t *testing.T) {
		bare := newTestServer(t, st, nil)
		inv := seedArchivedInvoice(t, st, "2025/03/15/abc123-inv.pdf")
		rec := httptest.NewRecorder()
		bare.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices/"+inv.ID+"/source", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestInvoiceSourcePresignFailure(t *testing.T) {
	st := newTestStore(t)
	archive := &fakeArchive{presignErr: assert.AnError}
	srv := newArchiveTestServer(t, st, archive)
	inv := seedArchivedInvoice(t, st, "2025/03/15/abc123-inv.pdf")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices/"+inv.ID+"/source", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDeleteInvoiceRemovesArchivedSource(t *testing.T) {
	st := newTestStore(t)
	archive := &fakeArchive{}
	srv := newArchiveTestServer(t, st, archive)
	inv := seedArchivedInvoice(t, st, "2025/03/15/abc123-inv.pdf")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/invoices/"+inv.ID, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2025/03/15/abc123-inv.pdf"}, archive.deleted)

	_, err := st.GetInvoice(context.Background(), inv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
