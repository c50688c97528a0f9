package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openclerk/invoicedesk/internal/export"
	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/store"
)

// invoiceWithItems is the list/update response shape: an invoice together
// with its line items.
type invoiceWithItems struct {
	model.Invoice
	LineItems []model.LineItem `json:"lineItems"`
}

func (s *Server) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{
		Status:  model.InvoiceStatus(q.Get("status")),
		SortBy:  q.Get("sortBy"),
		SortDir: q.Get("sortDir"),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		filter.Offset = v
	}

	invoices, err := s.store.ListInvoices(r.Context(), filter)
	if err != nil {
		zap.L().Error("list invoices failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list invoices")
		return
	}

	out := make([]invoiceWithItems, 0, len(invoices))
	for _, inv := range invoices {
		items, err := s.store.ListLineItems(r.Context(), inv.ID)
		if err != nil {
			zap.L().Error("list line items failed", zap.String("invoice_id", inv.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list invoices")
			return
		}
		out = append(out, invoiceWithItems{Invoice: inv, LineItems: items})
	}
	writeJSON(w, http.StatusOK, out)
}

// updateInvoiceRequest is a partial patch. Absent fields are left unchanged;
// a present lineItems array replaces the invoice's items wholesale.
type updateInvoiceRequest struct {
	ID            string               `json:"id"`
	CustomerName  *string              `json:"customerName"`
	VendorName    *string              `json:"vendorName"`
	InvoiceNumber *string              `json:"invoiceNumber"`
	InvoiceDate   *time.Time           `json:"invoiceDate"`
	DueDate       *time.Time           `json:"dueDate"`
	Amount        *float64             `json:"amount"`
	Currency      *string              `json:"currency"`
	Status        *model.InvoiceStatus `json:"status"`
	Notes         *string              `json:"notes"`
	LineItems     []model.LineItemData `json:"lineItems"`
	// ClearDueDate removes the due date; a null dueDate alone means unchanged.
	ClearDueDate bool `json:"clearDueDate"`
}

func (s *Server) updateInvoice(w http.ResponseWriter, r *http.Request) {
	var req updateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	patch := store.InvoicePatch{
		CustomerName:  req.CustomerName,
		VendorName:    req.VendorName,
		InvoiceNumber: req.InvoiceNumber,
		InvoiceDate:   req.InvoiceDate,
		DueDate:       req.DueDate,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        req.Status,
		Notes:         req.Notes,
		LineItems:     req.LineItems,
		ClearDueDate:  req.ClearDueDate,
	}

	inv, err := s.store.UpdateInvoice(r.Context(), req.ID, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "invoice not found")
			return
		}
		zap.L().Error("update invoice failed", zap.String("invoice_id", req.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update invoice")
		return
	}

	items, err := s.store.ListLineItems(r.Context(), inv.ID)
	if err != nil {
		zap.L().Error("list line items failed", zap.String("invoice_id", inv.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update invoice")
		return
	}
	writeJSON(w, http.StatusOK, invoiceWithItems{Invoice: *inv, LineItems: items})
}

// invoiceSource redirects to a short-lived download link for the archived
// original document. 404 when archival is off or the invoice carries no
// archived source.
func (s *Server) invoiceSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := s.store.GetInvoice(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "invoice not found")
			return
		}
		zap.L().Error("get invoice failed", zap.String("invoice_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load invoice")
		return
	}
	if s.archive == nil || inv.SourceFile == nil || inv.SourceFile.ArchiveKey == "" {
		writeError(w, http.StatusNotFound, "no archived source document")
		return
	}

	url, err := s.archive.PresignGet(r.Context(), inv.SourceFile.ArchiveKey, sourceLinkTTL)
	if err != nil {
		zap.L().Error("presign source document failed",
			zap.String("invoice_id", id),
			zap.String("key", inv.SourceFile.ArchiveKey),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to link source document")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

const sourceLinkTTL = 15 * time.Minute

func (s *Server) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Fetched first so the archived source can be cleaned up after the row
	// is gone.
	inv, err := s.store.GetInvoice(r.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		zap.L().Error("get invoice failed", zap.String("invoice_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete invoice")
		return
	}

	if err := s.store.DeleteInvoice(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "invoice not found")
			return
		}
		zap.L().Error("delete invoice failed", zap.String("invoice_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete invoice")
		return
	}

	if s.archive != nil && inv != nil && inv.SourceFile != nil && inv.SourceFile.ArchiveKey != "" {
		if err := s.archive.Delete(r.Context(), inv.SourceFile.ArchiveKey); err != nil {
			// The invoice row is already gone; an orphaned object is
			// tolerable.
			zap.L().Warn("archived source delete failed",
				zap.String("invoice_id", id),
				zap.String("key", inv.SourceFile.ArchiveKey),
				zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) exportInvoices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.xlsx"`)

	if err := export.Write(r.Context(), s.store, w); err != nil {
		zap.L().Error("invoice export failed", zap.Error(err))
		// Headers are already committed on a partial write; this status only
		// reaches clients when the failure happened before the body started.
		writeError(w, http.StatusInternalServerError, "failed to export invoices")
	}
}
