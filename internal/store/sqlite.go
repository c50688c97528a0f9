package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/openclerk/invoicedesk/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS invoices (
	id             TEXT PRIMARY KEY,
	customer_name  TEXT NOT NULL,
	vendor_name    TEXT NOT NULL,
	invoice_number TEXT NOT NULL,
	invoice_date   INTEGER NOT NULL,
	due_date       INTEGER,
	amount         REAL NOT NULL,
	currency       TEXT NOT NULL DEFAULT 'USD',
	status         TEXT NOT NULL DEFAULT 'pending',
	source_file    TEXT,
	token_usage    TEXT,
	token_cost     REAL NOT NULL DEFAULT 0,
	notes          TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS line_items (
	id           TEXT PRIMARY KEY,
	invoice_id   TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
	description  TEXT NOT NULL,
	amount       REAL NOT NULL,
	quantity     REAL,
	unit_price   REAL,
	product_code TEXT,
	tax_rate     REAL,
	metadata     TEXT,
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id          TEXT PRIMARY KEY,
	chat_id     TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	attachments TEXT,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_invoices_dup_key ON invoices(vendor_name, invoice_number, amount);
CREATE INDEX IF NOT EXISTS idx_line_items_invoice_id ON line_items(invoice_id);
CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_id ON chat_messages(chat_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateInvoice(ctx context.Context, inv model.Invoice, items []model.LineItemData) (*model.Invoice, error) {
	inv.ID = uuid.New().String()
	inv.CreatedAt = time.Now().UTC()
	if inv.Currency == "" {
		inv.Currency = "USD"
	}
	if inv.Status == "" {
		inv.Status = model.InvoiceStatusPending
	}

	sourceJSON, usageJSON, err := marshalProvenance(inv)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create invoice")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.CustomerName, inv.VendorName, inv.InvoiceNumber,
		toEpoch(inv.InvoiceDate), toEpochPtr(inv.DueDate), inv.Amount,
		inv.Currency, string(inv.Status), nullableText(sourceJSON), nullableText(usageJSON),
		inv.TokenCost, inv.Notes, toEpoch(inv.CreatedAt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert invoice")
	}

	if err := sqliteInsertItems(ctx, tx, inv.ID, items, inv.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create invoice")
	}
	return &inv, nil
}

func sqliteInsertItems(ctx context.Context, tx *sql.Tx, invoiceID string, items []model.LineItemData, createdAt time.Time) error {
	for _, li := range items {
		var metaJSON []byte
		if li.Metadata != nil {
			var err error
			metaJSON, err = json.Marshal(li.Metadata)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal line item metadata")
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO line_items (`+lineItemColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), invoiceID, li.Description, li.Amount,
			li.Quantity, li.UnitPrice, li.ProductCode, li.TaxRate,
			nullableText(metaJSON), toEpoch(createdAt),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert line item for %s", invoiceID)
		}
	}
	return nil
}

// nullableText stores JSON blobs as TEXT, writing NULL when there is no value.
func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (s *SQLiteStore) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := sqliteScanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "invoice %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get invoice %s", id)
	}
	return inv, nil
}

func (s *SQLiteStore) ListInvoices(ctx context.Context, filter ListFilter) ([]model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY ` + sortClause(filter)

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list invoices")
	}
	defer rows.Close()

	var invoices []model.Invoice
	for rows.Next() {
		inv, err := sqliteScanInvoice(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan invoice")
		}
		invoices = append(invoices, *inv)
	}
	return invoices, eris.Wrap(rows.Err(), "sqlite: list invoices iterate")
}

func (s *SQLiteStore) UpdateInvoice(ctx context.Context, id string, patch InvoicePatch) (*model.Invoice, error) {
	if patch.Empty() {
		return s.GetInvoice(ctx, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin update invoice")
	}
	defer tx.Rollback() //nolint:errcheck

	sets, args := patchAssignments(patch)
	if len(sets) > 0 {
		// Rewrite the numbered placeholders emitted by patchAssignments
		// into SQLite positional form.
		for i := range sets {
			col := strings.SplitN(sets[i], " ", 2)[0]
			sets[i] = col + " = ?"
		}
		args = append(args, id)
		query := fmt.Sprintf(`UPDATE invoices SET %s WHERE id = ?`, strings.Join(sets, ", "))
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: update invoice %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			return nil, eris.Wrapf(ErrNotFound, "invoice %s", id)
		}
	}

	if patch.LineItems != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE invoice_id = ?`, id); err != nil {
			return nil, eris.Wrapf(err, "sqlite: delete line items for %s", id)
		}
		if err := sqliteInsertItems(ctx, tx, id, patch.LineItems, time.Now().UTC()); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit update invoice")
	}
	return s.GetInvoice(ctx, id)
}

func (s *SQLiteStore) DeleteInvoice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete invoice %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "invoice %s", id)
	}
	return nil
}

func (s *SQLiteStore) FindDuplicate(ctx context.Context, vendorName, invoiceNumber string, amount float64) (*model.Invoice, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE vendor_name = ? AND invoice_number = ? AND amount = ?
		 ORDER BY created_at ASC LIMIT 1`,
		vendorName, invoiceNumber, amount,
	)
	inv, err := sqliteScanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: find duplicate")
	}
	return inv, nil
}

func (s *SQLiteStore) InsertLineItems(ctx context.Context, invoiceID string, items []model.LineItemData) ([]model.LineItem, error) {
	now := time.Now().UTC()
	stored := make([]model.LineItem, 0, len(items))

	for _, li := range items {
		item := model.LineItem{
			ID:          uuid.New().String(),
			InvoiceID:   invoiceID,
			Description: li.Description,
			Amount:      li.Amount,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			ProductCode: li.ProductCode,
			TaxRate:     li.TaxRate,
			Metadata:    li.Metadata,
			CreatedAt:   now,
		}
		var metaJSON []byte
		if li.Metadata != nil {
			var err error
			metaJSON, err = json.Marshal(li.Metadata)
			if err != nil {
				return nil, eris.Wrap(err, "sqlite: marshal line item metadata")
			}
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO line_items (`+lineItemColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, invoiceID, li.Description, li.Amount,
			li.Quantity, li.UnitPrice, li.ProductCode, li.TaxRate,
			nullableText(metaJSON), toEpoch(now),
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert line item for %s", invoiceID)
		}
		stored = append(stored, item)
	}
	return stored, nil
}

func (s *SQLiteStore) DeleteLineItems(ctx context.Context, invoiceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM line_items WHERE invoice_id = ?`, invoiceID)
	return eris.Wrapf(err, "sqlite: delete line items for %s", invoiceID)
}

func (s *SQLiteStore) ListLineItems(ctx context.Context, invoiceID string) ([]model.LineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items WHERE invoice_id = ? ORDER BY rowid ASC`,
		invoiceID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list line items")
	}
	defer rows.Close()

	var items []model.LineItem
	for rows.Next() {
		li, err := sqliteScanLineItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan line item")
		}
		items = append(items, *li)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list line items iterate")
}

func (s *SQLiteStore) CreateChat(ctx context.Context, chat model.Chat) (*model.Chat, error) {
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	chat.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, title, created_at) VALUES (?, ?, ?, ?)`,
		chat.ID, chat.UserID, chat.Title, toEpoch(chat.CreatedAt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert chat")
	}
	return &chat, nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	var c model.Chat
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at FROM chats WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get chat %s", id)
	}
	c.CreatedAt = fromEpoch(createdAt)
	return &c, nil
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete chat %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "chat %s", id)
	}
	return nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg model.ChatMessage) (*model.ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.CreatedAt = time.Now().UTC()

	var attachJSON []byte
	if len(msg.Attachments) > 0 {
		var err error
		attachJSON, err = json.Marshal(msg.Attachments)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal attachments")
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, chat_id, role, content, attachments, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, string(msg.Role), msg.Content, nullableText(attachJSON), toEpoch(msg.CreatedAt),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert message for chat %s", msg.ChatID)
	}
	return &msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]model.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, attachments, created_at
		 FROM chat_messages WHERE chat_id = ? ORDER BY rowid ASC`,
		chatID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list messages")
	}
	defer rows.Close()

	var msgs []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		var role string
		var attachJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &attachJSON, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan message")
		}
		m.Role = model.MessageRole(role)
		if attachJSON.Valid && attachJSON.String != "" {
			if err := json.Unmarshal([]byte(attachJSON.String), &m.Attachments); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal attachments")
			}
		}
		m.CreatedAt = fromEpoch(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, eris.Wrap(rows.Err(), "sqlite: list messages iterate")
}

func sqliteScanInvoice(row rowScanner) (*model.Invoice, error) {
	var inv model.Invoice
	var status string
	var invoiceDate, createdAt int64
	var dueDate sql.NullInt64
	var sourceJSON, usageJSON sql.NullString

	err := row.Scan(&inv.ID, &inv.CustomerName, &inv.VendorName, &inv.InvoiceNumber,
		&invoiceDate, &dueDate, &inv.Amount, &inv.Currency, &status,
		&sourceJSON, &usageJSON, &inv.TokenCost, &inv.Notes, &createdAt)
	if err != nil {
		return nil, err
	}

	inv.Status = model.InvoiceStatus(status)
	inv.InvoiceDate = fromEpoch(invoiceDate)
	inv.CreatedAt = fromEpoch(createdAt)
	if dueDate.Valid {
		t := fromEpoch(dueDate.Int64)
		inv.DueDate = &t
	}
	if sourceJSON.Valid && sourceJSON.String != "" {
		inv.SourceFile = &model.SourceFile{}
		if err := json.Unmarshal([]byte(sourceJSON.String), inv.SourceFile); err != nil {
			return nil, eris.Wrap(err, "unmarshal source file")
		}
	}
	if usageJSON.Valid && usageJSON.String != "" {
		inv.TokenUsage = &model.TokenUsage{}
		if err := json.Unmarshal([]byte(usageJSON.String), inv.TokenUsage); err != nil {
			return nil, eris.Wrap(err, "unmarshal token usage")
		}
	}
	return &inv, nil
}

func sqliteScanLineItem(row rowScanner) (*model.LineItem, error) {
	var li model.LineItem
	var createdAt int64
	var metaJSON sql.NullString

	err := row.Scan(&li.ID, &li.InvoiceID, &li.Description, &li.Amount,
		&li.Quantity, &li.UnitPrice, &li.ProductCode, &li.TaxRate,
		&metaJSON, &createdAt)
	if err != nil {
		return nil, err
	}

	li.CreatedAt = fromEpoch(createdAt)
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &li.Metadata); err != nil {
			return nil, eris.Wrap(err, "unmarshal line item metadata")
		}
	}
	return &li, nil
}
