package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclerk/invoicedesk/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testInvoice(n string) model.Invoice {
	return model.Invoice{
		CustomerName:  "Acme Corp",
		VendorName:    "Widget Supply Co",
		InvoiceNumber: n,
		InvoiceDate:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:        250,
		Currency:      "USD",
		Status:        model.InvoiceStatusProcessed,
	}
}

// --- Invoices ---

func TestSQLite_Invoice_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	due := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	inv := testInvoice("INV-100")
	inv.DueDate = &due
	inv.SourceFile = &model.SourceFile{Path: "invoices/a.pdf", ContentType: "application/pdf", Size: 1024}
	inv.TokenUsage = &model.TokenUsage{InputTokens: 1200, OutputTokens: 340}
	inv.TokenCost = 0.0021

	qty := 2.0
	saved, err := st.CreateInvoice(ctx, inv, []model.LineItemData{
		{Description: "Widgets", Amount: 200, Quantity: &qty},
		{Description: "Shipping", Amount: 50, Metadata: map[string]any{"carrier": "UPS"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	got, err := st.GetInvoice(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget Supply Co", got.VendorName)
	assert.Equal(t, "INV-100", got.InvoiceNumber)
	assert.True(t, got.InvoiceDate.Equal(inv.InvoiceDate))
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(due))
	require.NotNil(t, got.SourceFile)
	assert.Equal(t, "invoices/a.pdf", got.SourceFile.Path)
	require.NotNil(t, got.TokenUsage)
	assert.Equal(t, 1200, got.TokenUsage.InputTokens)

	items, err := st.ListLineItems(ctx, saved.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Widgets", items[0].Description)
	require.NotNil(t, items[0].Quantity)
	assert.Equal(t, 2.0, *items[0].Quantity)
	assert.Equal(t, "UPS", items[1].Metadata["carrier"])
}

func TestSQLite_Invoice_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetInvoice(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_Invoice_ListFilterSort(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := testInvoice("INV-1")
	a.Amount = 100
	b := testInvoice("INV-2")
	b.Amount = 300
	c := testInvoice("INV-3")
	c.Amount = 200
	c.Status = model.InvoiceStatusPending

	for _, inv := range []model.Invoice{a, b, c} {
		_, err := st.CreateInvoice(ctx, inv, nil)
		require.NoError(t, err)
	}

	got, err := st.ListInvoices(ctx, ListFilter{SortBy: "amount", SortDir: "asc"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 100.0, got[0].Amount)
	assert.Equal(t, 300.0, got[2].Amount)

	got, err = st.ListInvoices(ctx, ListFilter{Status: model.InvoiceStatusProcessed})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = st.ListInvoices(ctx, ListFilter{Limit: 1, SortBy: "amount", SortDir: "desc"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 300.0, got[0].Amount)
}

func TestSQLite_Invoice_PatchUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	saved, err := st.CreateInvoice(ctx, testInvoice("INV-100"), []model.LineItemData{
		{Description: "Old item", Amount: 250},
	})
	require.NoError(t, err)

	vendor := "Renamed Vendor"
	amount := 99.5
	got, err := st.UpdateInvoice(ctx, saved.ID, InvoicePatch{
		VendorName: &vendor,
		Amount:     &amount,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed Vendor", got.VendorName)
	assert.Equal(t, 99.5, got.Amount)
	// Untouched fields survive.
	assert.Equal(t, "Acme Corp", got.CustomerName)
	assert.Equal(t, "INV-100", got.InvoiceNumber)

	// Line items were not part of the patch, so they remain.
	items, err := st.ListLineItems(ctx, saved.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Old item", items[0].Description)
}

func TestSQLite_Invoice_ClearDueDate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	due := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	inv := testInvoice("INV-100")
	inv.DueDate = &due
	saved, err := st.CreateInvoice(ctx, inv, nil)
	require.NoError(t, err)
	require.NotNil(t, saved.DueDate)

	// A nil DueDate alone means unchanged.
	vendor := "Renamed Vendor"
	got, err := st.UpdateInvoice(ctx, saved.ID, InvoicePatch{VendorName: &vendor})
	require.NoError(t, err)
	require.NotNil(t, got.DueDate)

	got, err = st.UpdateInvoice(ctx, saved.ID, InvoicePatch{ClearDueDate: true})
	require.NoError(t, err)
	assert.Nil(t, got.DueDate)
}

func TestSQLite_Invoice_PatchReplacesLineItems(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	saved, err := st.CreateInvoice(ctx, testInvoice("INV-100"), []model.LineItemData{
		{Description: "One", Amount: 100},
		{Description: "Two", Amount: 150},
	})
	require.NoError(t, err)

	_, err = st.UpdateInvoice(ctx, saved.ID, InvoicePatch{
		LineItems: []model.LineItemData{{Description: "Replacement", Amount: 42}},
	})
	require.NoError(t, err)

	items, err := st.ListLineItems(ctx, saved.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Replacement", items[0].Description)
}

func TestSQLite_Invoice_EmptyPatchIsNoop(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	saved, err := st.CreateInvoice(ctx, testInvoice("INV-100"), nil)
	require.NoError(t, err)

	got, err := st.UpdateInvoice(ctx, saved.ID, InvoicePatch{})
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, "Widget Supply Co", got.VendorName)
}

func TestSQLite_Invoice_UpdateMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	notes := "x"
	_, err := st.UpdateInvoice(context.Background(), "nope", InvoicePatch{Notes: &notes})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_Invoice_DeleteCascadesLineItems(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	saved, err := st.CreateInvoice(ctx, testInvoice("INV-100"), []model.LineItemData{
		{Description: "Widgets", Amount: 250},
	})
	require.NoError(t, err)

	require.NoError(t, st.DeleteInvoice(ctx, saved.ID))

	items, err := st.ListLineItems(ctx, saved.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	err = st.DeleteInvoice(ctx, saved.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_FindDuplicate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	saved, err := st.CreateInvoice(ctx, testInvoice("INV-100"), nil)
	require.NoError(t, err)

	dup, err := st.FindDuplicate(ctx, "Widget Supply Co", "INV-100", 250)
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, saved.ID, dup.ID)

	// Any differing key field means no match.
	dup, err = st.FindDuplicate(ctx, "Widget Supply Co", "INV-100", 250.01)
	require.NoError(t, err)
	assert.Nil(t, dup)

	dup, err = st.FindDuplicate(ctx, "Other Vendor", "INV-100", 250)
	require.NoError(t, err)
	assert.Nil(t, dup)
}

// --- Chats ---

func TestSQLite_Chat_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	chat, err := st.CreateChat(ctx, model.Chat{UserID: "user-1", Title: "March receipts"})
	require.NoError(t, err)
	require.NotEmpty(t, chat.ID)

	got, err := st.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)

	_, err = st.SaveMessage(ctx, model.ChatMessage{
		ChatID:  chat.ID,
		Role:    model.RoleUser,
		Content: "process these invoices",
		Attachments: []model.Attachment{
			{URL: "https://files.example.com/a.pdf", ContentType: "application/pdf", Name: "a.pdf"},
		},
	})
	require.NoError(t, err)
	_, err = st.SaveMessage(ctx, model.ChatMessage{
		ChatID:  chat.ID,
		Role:    model.RoleAssistant,
		Content: "Saved 1 invoice.",
	})
	require.NoError(t, err)

	msgs, err := st.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "a.pdf", msgs[0].Attachments[0].Name)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Empty(t, msgs[1].Attachments)

	require.NoError(t, st.DeleteChat(ctx, chat.ID))

	// Messages go with the chat.
	msgs, err = st.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	gone, err := st.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSQLite_Chat_DeleteMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.DeleteChat(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
