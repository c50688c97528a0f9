package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/openclerk/invoicedesk/internal/db"
	"github.com/openclerk/invoicedesk/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS invoices (
	id             TEXT PRIMARY KEY,
	customer_name  TEXT NOT NULL,
	vendor_name    TEXT NOT NULL,
	invoice_number TEXT NOT NULL,
	invoice_date   BIGINT NOT NULL,
	due_date       BIGINT,
	amount         DOUBLE PRECISION NOT NULL,
	currency       TEXT NOT NULL DEFAULT 'USD',
	status         TEXT NOT NULL DEFAULT 'pending',
	source_file    JSONB,
	token_usage    JSONB,
	token_cost     DOUBLE PRECISION NOT NULL DEFAULT 0,
	notes          TEXT NOT NULL DEFAULT '',
	created_at     BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS line_items (
	seq          BIGSERIAL,
	id           TEXT PRIMARY KEY,
	invoice_id   TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
	description  TEXT NOT NULL,
	amount       DOUBLE PRECISION NOT NULL,
	quantity     DOUBLE PRECISION,
	unit_price   DOUBLE PRECISION,
	product_code TEXT,
	tax_rate     DOUBLE PRECISION,
	metadata     JSONB,
	created_at   BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
	seq         BIGSERIAL,
	id          TEXT PRIMARY KEY,
	chat_id     TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	attachments JSONB,
	created_at  BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_invoices_dup_key ON invoices(vendor_name, invoice_number, amount);
CREATE INDEX IF NOT EXISTS idx_line_items_invoice_id ON line_items(invoice_id);
CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_id ON chat_messages(chat_id);
`

const invoiceColumns = `id, customer_name, vendor_name, invoice_number, invoice_date, due_date, amount, currency, status, source_file, token_usage, token_cost, notes, created_at`

const lineItemColumns = `id, invoice_id, description, amount, quantity, unit_price, product_code, tax_rate, metadata, created_at`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateInvoice(ctx context.Context, inv model.Invoice, items []model.LineItemData) (*model.Invoice, error) {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create invoice")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		inv.ID, inv.CustomerName, inv.VendorName, inv.InvoiceNumber,
		toEpoch(inv.InvoiceDate), toEpochPtr(inv.DueDate), inv.Amount,
		inv.Currency, string(inv.Status), sourceJSON, usageJSON,
		inv.TokenCost, inv.Notes, toEpoch(inv.CreatedAt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert invoice")
	}

	if len(items) > 0 {
		if err := insertLineItemsTx(ctx, tx, inv.ID, items, inv.CreatedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create invoice")
	}
	return &inv, nil
}

// insertLineItemsTx bulk-inserts line items inside the given transaction
// using the COPY protocol. Each item is assigned a fresh id.
func insertLineItemsTx(ctx context.Context, tx pgx.Tx, invoiceID string, items []model.LineItemData, createdAt time.Time) error {
	rows := make([][]any, 0, len(items))
	for _, li := range items {
		var metaJSON []byte
		if li.Metadata != nil {
			var err error
			metaJSON, err = json.Marshal(li.Metadata)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal line item metadata")
			}
		}
		rows = append(rows, []any{
			uuid.New().String(), invoiceID, li.Description, li.Amount,
			li.Quantity, li.UnitPrice, li.ProductCode, li.TaxRate,
			metaJSON, toEpoch(createdAt),
		})
	}

	_, err := db.CopyFrom(ctx, tx, "line_items",
		[]string{"id", "invoice_id", "description", "amount", "quantity", "unit_price", "product_code", "tax_rate", "metadata", "created_at"},
		rows,
	)
	return err
}

func (s *PostgresStore) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "invoice %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get invoice %s", id)
	}
	return inv, nil
}

func (s *PostgresStore) ListInvoices(ctx context.Context, filter ListFilter) ([]model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY ` + sortClause(filter)

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list invoices")
	}
	defer rows.Close()

	var invoices []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan invoice")
		}
		invoices = append(invoices, *inv)
	}
	return invoices, eris.Wrap(rows.Err(), "postgres: list invoices iterate")
}

func (s *PostgresStore) UpdateInvoice(ctx context.Context, id string, patch InvoicePatch) (*model.Invoice, error) {
	if patch.Empty() {
		return s.GetInvoice(ctx, id)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin update invoice")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	sets, args := patchAssignments(patch)
	if len(sets) > 0 {
		args = append(args, id)
		query := fmt.Sprintf(`UPDATE invoices SET %s WHERE id = $%d`,
			strings.Join(sets, ", "), len(args))
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: update invoice %s", id)
		}
		if tag.RowsAffected() == 0 {
			return nil, eris.Wrapf(ErrNotFound, "invoice %s", id)
		}
	}

	// A supplied line item array replaces all prior items.
	if patch.LineItems != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM line_items WHERE invoice_id = $1`, id); err != nil {
			return nil, eris.Wrapf(err, "postgres: delete line items for %s", id)
		}
		if len(patch.LineItems) > 0 {
			if err := insertLineItemsTx(ctx, tx, id, patch.LineItems, time.Now().UTC()); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit update invoice")
	}
	return s.GetInvoice(ctx, id)
}

// patchAssignments renders the patch's non-nil fields as numbered SET
// fragments with matching args.
func patchAssignments(patch InvoicePatch) ([]string, []any) {
	var sets []string
	var args []any

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.CustomerName != nil {
		add("customer_name", *patch.CustomerName)
	}
	if patch.VendorName != nil {
		add("vendor_name", *patch.VendorName)
	}
	if patch.InvoiceNumber != nil {
		add("invoice_number", *patch.InvoiceNumber)
	}
	if patch.InvoiceDate != nil {
		add("invoice_date", toEpoch(*patch.InvoiceDate))
	}
	switch {
	case patch.ClearDueDate:
		add("due_date", nil)
	case patch.DueDate != nil:
		add("due_date", toEpoch(*patch.DueDate))
	}
	if patch.Amount != nil {
		add("amount", *patch.Amount)
	}
	if patch.Currency != nil {
		add("currency", *patch.Currency)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Notes != nil {
		add("notes", *patch.Notes)
	}
	return sets, args
}

func (s *PostgresStore) DeleteInvoice(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete invoice %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "invoice %s", id)
	}
	return nil
}

func (s *PostgresStore) FindDuplicate(ctx context.Context, vendorName, invoiceNumber string, amount float64) (*model.Invoice, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE vendor_name = $1 AND invoice_number = $2 AND amount = $3
		 ORDER BY created_at ASC LIMIT 1`,
		vendorName, invoiceNumber, amount,
	)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find duplicate")
	}
	return inv, nil
}

func (s *PostgresStore) InsertLineItems(ctx context.Context, invoiceID string, items []model.LineItemData) ([]model.LineItem, error) {
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
				return nil, eris.Wrap(err, "postgres: marshal line item metadata")
			}
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO line_items (`+lineItemColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			item.ID, invoiceID, li.Description, li.Amount,
			li.Quantity, li.UnitPrice, li.ProductCode, li.TaxRate,
			metaJSON, toEpoch(now),
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: insert line item for %s", invoiceID)
		}
		stored = append(stored, item)
	}
	return stored, nil
}

func (s *PostgresStore) DeleteLineItems(ctx context.Context, invoiceID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM line_items WHERE invoice_id = $1`, invoiceID)
	return eris.Wrapf(err, "postgres: delete line items for %s", invoiceID)
}

func (s *PostgresStore) ListLineItems(ctx context.Context, invoiceID string) ([]model.LineItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lineItemColumns+` FROM line_items WHERE invoice_id = $1 ORDER BY seq ASC`,
		invoiceID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list line items")
	}
	defer rows.Close()

	var items []model.LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan line item")
		}
		items = append(items, *li)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list line items iterate")
}

func (s *PostgresStore) CreateChat(ctx context.Context, chat model.Chat) (*model.Chat, error) {
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	chat.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chats (id, user_id, title, created_at) VALUES ($1, $2, $3, $4)`,
		chat.ID, chat.UserID, chat.Title, toEpoch(chat.CreatedAt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert chat")
	}
	return &chat, nil
}

func (s *PostgresStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	var c model.Chat
	var createdAt int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get chat %s", id)
	}
	c.CreatedAt = fromEpoch(createdAt)
	return &c, nil
}

func (s *PostgresStore) DeleteChat(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete chat %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "chat %s", id)
	}
	return nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, msg model.ChatMessage) (*model.ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.CreatedAt = time.Now().UTC()

	var attachJSON []byte
	if len(msg.Attachments) > 0 {
		var err error
		attachJSON, err = json.Marshal(msg.Attachments)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal attachments")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, chat_id, role, content, attachments, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ChatID, string(msg.Role), msg.Content, attachJSON, toEpoch(msg.CreatedAt),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert message for chat %s", msg.ChatID)
	}
	return &msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, chatID string) ([]model.ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, role, content, attachments, created_at
		 FROM chat_messages WHERE chat_id = $1 ORDER BY seq ASC`,
		chatID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list messages")
	}
	defer rows.Close()

	var msgs []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		var attachJSON []byte
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &attachJSON, &createdAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan message")
		}
		if len(attachJSON) > 0 {
			if err := json.Unmarshal(attachJSON, &m.Attachments); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal attachments")
			}
		}
		m.CreatedAt = fromEpoch(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, eris.Wrap(rows.Err(), "postgres: list messages iterate")
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func marshalProvenance(inv model.Invoice) (sourceJSON, usageJSON []byte, err error) {
	if inv.SourceFile != nil {
		sourceJSON, err = json.Marshal(inv.SourceFile)
		if err != nil {
			return nil, nil, eris.Wrap(err, "postgres: marshal source file")
		}
	}
	if inv.TokenUsage != nil {
		usageJSON, err = json.Marshal(inv.TokenUsage)
		if err != nil {
			return nil, nil, eris.Wrap(err, "postgres: marshal token usage")
		}
	}
	return sourceJSON, usageJSON, nil
}

func scanInvoice(row rowScanner) (*model.Invoice, error) {
	var inv model.Invoice
	var invoiceDate, createdAt int64
	var dueDate *int64
	var sourceJSON, usageJSON []byte

	err := row.Scan(&inv.ID, &inv.CustomerName, &inv.VendorName, &inv.InvoiceNumber,
		&invoiceDate, &dueDate, &inv.Amount, &inv.Currency, &inv.Status,
		&sourceJSON, &usageJSON, &inv.TokenCost, &inv.Notes, &createdAt)
	if err != nil {
		return nil, err
	}

	inv.InvoiceDate = fromEpoch(invoiceDate)
	inv.DueDate = fromEpochPtr(dueDate)
	inv.CreatedAt = fromEpoch(createdAt)

	if len(sourceJSON) > 0 {
		inv.SourceFile = &model.SourceFile{}
		if err := json.Unmarshal(sourceJSON, inv.SourceFile); err != nil {
			return nil, eris.Wrap(err, "unmarshal source file")
		}
	}
	if len(usageJSON) > 0 {
		inv.TokenUsage = &model.TokenUsage{}
		if err := json.Unmarshal(usageJSON, inv.TokenUsage); err != nil {
			return nil, eris.Wrap(err, "unmarshal token usage")
		}
	}
	return &inv, nil
}

func scanLineItem(row rowScanner) (*model.LineItem, error) {
	var li model.LineItem
	var createdAt int64
	var metaJSON []byte

	err := row.Scan(&li.ID, &li.InvoiceID, &li.Description, &li.Amount,
		&li.Quantity, &li.UnitPrice, &li.ProductCode, &li.TaxRate,
		&metaJSON, &createdAt)
	if err != nil {
		return nil, err
	}

	li.CreatedAt = fromEpoch(createdAt)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &li.Metadata); err != nil {
			return nil, eris.Wrap(err, "unmarshal line item metadata")
		}
	}
	return &li, nil
}
