package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pending_operations (
	position     INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL,
	operation    TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	payload      BLOB,
	enqueued_at  TIMESTAMP NOT NULL,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT
);
CREATE TABLE IF NOT EXISTS sync_metadata (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	document  BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS tracked_changes (
	position     INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	operation    TEXT NOT NULL,
	snapshot     BLOB,
	changed_at   TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_history (
	id                 TEXT PRIMARY KEY,
	mode               TEXT NOT NULL,
	started_at         TIMESTAMP NOT NULL,
	completed_at       TIMESTAMP NOT NULL,
	items_pushed       INTEGER NOT NULL,
	items_pulled       INTEGER NOT NULL,
	conflicts_resolved INTEGER NOT NULL,
	success            INTEGER NOT NULL,
	message            TEXT
);
`

// SQLiteStore keeps sync state in an embedded database file, the natural
// backend for on-device deployments.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Single writer; the engine serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadQueue(ctx context.Context) ([]PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation, entity_type, entity_id, payload, enqueued_at, retry_count, COALESCE(last_error, '')
		 FROM pending_operations ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []PendingOperation
	for rows.Next() {
		var op PendingOperation
		var payload []byte
		if err := rows.Scan(&op.ID, &op.Operation, &op.EntityType, &op.EntityID,
			&payload, &op.EnqueuedAt, &op.RetryCount, &op.LastError); err != nil {
			return nil, err
		}
		op.Payload = json.RawMessage(payload)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *SQLiteStore) SaveQueue(ctx context.Context, ops []PendingOperation) error {
	return s.execTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_operations`); err != nil {
			return err
		}
		for _, op := range ops {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO pending_operations (id, operation, entity_type, entity_id, payload, enqueued_at, retry_count, last_error)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				op.ID, op.Operation, op.EntityType, op.EntityID,
				[]byte(op.Payload), op.EnqueuedAt, op.RetryCount, op.LastError)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LoadMetadata(ctx context.Context) (*SyncMetadata, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM sync_metadata WHERE id = 1`).Scan(&doc)
	if err == sql.ErrNoRows {
		return &SyncMetadata{}, nil
	}
	if err != nil {
		return nil, err
	}

	var meta SyncMetadata
	if err := json.Unmarshal(doc, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata document: %w", err)
	}
	return &meta, nil
}

func (s *SQLiteStore) SaveMetadata(ctx context.Context, meta *SyncMetadata) error {
	doc, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata document: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_metadata (id, document) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET document = excluded.document`, doc)
	return err
}

func (s *SQLiteStore) LoadChanges(ctx context.Context) ([]TrackedChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_type, entity_id, operation, snapshot, changed_at
		 FROM tracked_changes ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []TrackedChange
	for rows.Next() {
		var c TrackedChange
		var snapshot []byte
		if err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.Operation,
			&snapshot, &c.ChangedAt); err != nil {
			return nil, err
		}
		c.Snapshot = json.RawMessage(snapshot)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (s *SQLiteStore) SaveChanges(ctx context.Context, changes []TrackedChange) error {
	return s.execTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_changes`); err != nil {
			return err
		}
		for _, c := range changes {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO tracked_changes (id, entity_type, entity_id, operation, snapshot, changed_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				c.ID, c.EntityType, c.EntityID, c.Operation, []byte(c.Snapshot), c.ChangedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, h *SyncHistory) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_history (id, mode, started_at, completed_at, items_pushed, items_pulled, conflicts_resolved, success, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.Mode, h.StartedAt, h.CompletedAt,
		h.ItemsPushed, h.ItemsPulled, h.ConflictsResolved, h.Success, h.Message)
	return err
}

func (s *SQLiteStore) ListHistory(ctx context.Context, limit int) ([]SyncHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, started_at, completed_at, items_pushed, items_pulled, conflicts_resolved, success, COALESCE(message, '')
		 FROM sync_history ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []SyncHistory
	for rows.Next() {
		var h SyncHistory
		if err := rows.Scan(&h.ID, &h.Mode, &h.StartedAt, &h.CompletedAt,
			&h.ItemsPushed, &h.ItemsPulled, &h.ConflictsResolved, &h.Success, &h.Message); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *SQLiteStore) execTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
