package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"finai/internal/core"

	_ "modernc.org/sqlite"
)

const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

// StoredTable is a table row together with its ownership and export state.
type StoredTable struct {
	OwnerID    string
	Table      core.Table
	SyncStatus string
	UpdatedAt  time.Time
}

// PendingDeletion is a deleted table whose removal has not been exported.
type PendingDeletion struct {
	TableID   string
	OwnerID   string
	DeletedAt time.Time
}

type SQLiteRepository struct {
	db   *sql.DB
	path string
}

// NewSQLiteRepository opens the database at dbPath. With autoMigrate false
// the schema is left alone and reads fail with core.ErrNotProvisioned until
// Provision is called.
func NewSQLiteRepository(dbPath string, autoMigrate bool) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if autoMigrate {
		if err := RunMigrations(dbPath); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return &SQLiteRepository{db: db, path: dbPath}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Provision implements ports.Provisioner.
func (r *SQLiteRepository) Provision(ctx context.Context) error {
	if err := RunMigrations(r.path); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Table storage provisioned", "path", r.path)
	return nil
}

// Ping reports whether the database answers and the schema is present.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM finai_tables LIMIT 1`).Scan(&n)
	return classify(err)
}

const selectColumns = `id, owner_id, name, description, columns_json, rows_json,
	COALESCE(theme_color, ''), created_at, updated_at, revision, sync_status`

// List implements ports.TableStore. Tables are returned newest first.
func (r *SQLiteRepository) List(ctx context.Context, ownerID string) ([]core.Table, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM finai_tables WHERE owner_id = ? ORDER BY created_at DESC, id`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", classify(err))
	}
	defer rows.Close()

	tables := []core.Table{}
	for rows.Next() {
		st, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, st.Table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", classify(err))
	}
	return tables, nil
}

// Upsert implements ports.TableStore. Every write bumps the revision and
// marks the table for export. Writing a table id owned by someone else
// fails with core.ErrNotFound.
func (r *SQLiteRepository) Upsert(ctx context.Context, ownerID string, t core.Table) (core.Table, error) {
	cols, err := json.Marshal(nonNilColumns(t.Columns))
	if err != nil {
		return core.Table{}, fmt.Errorf("encode columns: %w", err)
	}
	rws, err := json.Marshal(nonNilRows(t.Rows))
	if err != nil {
		return core.Table{}, fmt.Errorf("encode rows: %w", err)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	now := time.Now().UTC()

	var revision int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO finai_tables
			(id, owner_id, name, description, columns_json, rows_json, theme_color, created_at, updated_at, revision, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, 1, 'pending')
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			columns_json = excluded.columns_json,
			rows_json = excluded.rows_json,
			theme_color = excluded.theme_color,
			updated_at = excluded.updated_at,
			revision = finai_tables.revision + 1,
			sync_status = 'pending'
		WHERE finai_tables.owner_id = excluded.owner_id
		RETURNING revision`,
		t.ID, ownerID, t.Name, t.Description, string(cols), string(rws), t.ThemeColor,
		formatTime(t.CreatedAt), formatTime(now),
	).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Table{}, fmt.Errorf("upsert table %s: %w", t.ID, core.ErrNotFound)
	}
	if err != nil {
		return core.Table{}, fmt.Errorf("upsert table %s: %w", t.ID, classify(err))
	}

	slog.DebugContext(ctx, "Table saved to SQLite",
		"table_id", t.ID,
		"owner_id", ownerID,
		"revision", revision,
		"columns", len(t.Columns),
		"rows", len(t.Rows))

	t.Revision = revision
	return t, nil
}

// Delete implements ports.TableStore. Deleting an unknown id is a no-op.
func (r *SQLiteRepository) Delete(ctx context.Context, tableID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, `DELETE FROM finai_tables WHERE id = ? RETURNING owner_id`, tableID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete table %s: %w", tableID, classify(err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO finai_table_deletions (table_id, owner_id, deleted_at, sync_status)
		VALUES (?, ?, ?, 'pending')
		ON CONFLICT(table_id) DO UPDATE SET deleted_at = excluded.deleted_at, sync_status = 'pending'`,
		tableID, owner, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("record deletion %s: %w", tableID, classify(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	slog.InfoContext(ctx, "Table deleted from SQLite", "table_id", tableID, "owner_id", owner)
	return nil
}

// GetTable returns a single table with its owner and export state.
func (r *SQLiteRepository) GetTable(ctx context.Context, tableID string) (StoredTable, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM finai_tables WHERE id = ?`, tableID)
	st, err := scanTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredTable{}, fmt.Errorf("get table %s: %w", tableID, core.ErrNotFound)
	}
	if err != nil {
		return StoredTable{}, fmt.Errorf("get table %s: %w", tableID, classify(err))
	}
	return st, nil
}

// GetPendingSync returns up to limit tables not yet exported, oldest update
// first.
func (r *SQLiteRepository) GetPendingSync(ctx context.Context, limit int) ([]StoredTable, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM finai_tables WHERE sync_status = 'pending' ORDER BY updated_at LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("pending tables: %w", classify(err))
	}
	defer rows.Close()

	var out []StoredTable
	for rows.Next() {
		st, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending table: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// MarkSynced records a successful export. A revision written after the
// exported one keeps the table pending.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, tableID string, revision int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE finai_tables
		SET sync_status = CASE WHEN revision = ? THEN 'synced' ELSE sync_status END,
		    synced_revision = MAX(synced_revision, ?)
		WHERE id = ?`, revision, revision, tableID)
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", tableID, classify(err))
	}
	return nil
}

func (r *SQLiteRepository) MarkSyncError(ctx context.Context, tableID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE finai_tables SET sync_status = 'error' WHERE id = ?`, tableID)
	if err != nil {
		return fmt.Errorf("mark sync error %s: %w", tableID, classify(err))
	}
	return nil
}

// GetPendingDeletions returns up to limit deletions not yet exported.
func (r *SQLiteRepository) GetPendingDeletions(ctx context.Context, limit int) ([]PendingDeletion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT table_id, owner_id, deleted_at FROM finai_table_deletions
		WHERE sync_status = 'pending' ORDER BY deleted_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending deletions: %w", classify(err))
	}
	defer rows.Close()

	var out []PendingDeletion
	for rows.Next() {
		var d PendingDeletion
		var deletedAt string
		if err := rows.Scan(&d.TableID, &d.OwnerID, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan deletion: %w", err)
		}
		d.DeletedAt, _ = parseTime(deletedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) MarkDeletionSynced(ctx context.Context, tableID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE finai_table_deletions SET sync_status = 'synced' WHERE table_id = ?`, tableID)
	if err != nil {
		return fmt.Errorf("mark deletion synced %s: %w", tableID, classify(err))
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTable(s scanner) (StoredTable, error) {
	var (
		st                   StoredTable
		cols, rws            string
		createdAt, updatedAt string
	)
	t := &st.Table
	err := s.Scan(&t.ID, &st.OwnerID, &t.Name, &t.Description, &cols, &rws,
		&t.ThemeColor, &createdAt, &updatedAt, &t.Revision, &st.SyncStatus)
	if err != nil {
		return StoredTable{}, err
	}
	if err := json.Unmarshal([]byte(cols), &t.Columns); err != nil {
		return StoredTable{}, fmt.Errorf("decode columns of %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(rws), &t.Rows); err != nil {
		return StoredTable{}, fmt.Errorf("decode rows of %s: %w", t.ID, err)
	}
	retagDates(t)
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return StoredTable{}, fmt.Errorf("parse created_at of %s: %w", t.ID, err)
	}
	st.UpdatedAt, _ = parseTime(updatedAt)
	return st, nil
}

// retagDates gives cells of date columns the date kind; the JSON encoding of
// rows does not carry it.
func retagDates(t *core.Table) {
	for _, c := range t.Columns {
		if c.Type != core.TypeDate {
			continue
		}
		for _, row := range t.Rows {
			if v, ok := row.Cells[c.Key]; ok && v.Kind() == core.KindText {
				row.Cells[c.Key] = core.DateString(v.String())
			}
		}
	}
}

// classify maps a missing relation to core.ErrNotProvisioned.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %v", core.ErrNotProvisioned, err)
	}
	return err
}

// timeLayout has a fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nonNilColumns(c []core.Column) []core.Column {
	if c == nil {
		return []core.Column{}
	}
	return c
}

func nonNilRows(r []core.Row) []core.Row {
	if r == nil {
		return []core.Row{}
	}
	return r
}
