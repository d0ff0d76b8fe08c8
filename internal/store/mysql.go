package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"fieldsync-service/internal/config"
	"fieldsync-service/internal/logger"
)

// MySQLStore keeps sync state in a MySQL database, for deployments where the
// engine runs as a sidecar next to a depot server rather than on a device.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	// Retry loop for Ping
	maxRetries := 30
	for i := 0; i < maxRetries; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for state DB...", zap.Error(err), zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to ping mysql after retries: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init mysql schema: %w", err)
	}

	return store, nil
}

func (s *MySQLStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pending_operations (
			position     BIGINT AUTO_INCREMENT PRIMARY KEY,
			id           VARCHAR(36) NOT NULL,
			operation    VARCHAR(16) NOT NULL,
			entity_type  VARCHAR(64) NOT NULL,
			entity_id    VARCHAR(64) NOT NULL,
			payload      JSON,
			enqueued_at  DATETIME(6) NOT NULL,
			retry_count  INT NOT NULL DEFAULT 0,
			last_error   TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sync_metadata (
			id        TINYINT PRIMARY KEY,
			document  JSON NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tracked_changes (
			position     BIGINT AUTO_INCREMENT PRIMARY KEY,
			id           VARCHAR(36) NOT NULL,
			entity_type  VARCHAR(64) NOT NULL,
			entity_id    VARCHAR(64) NOT NULL,
			operation    VARCHAR(16) NOT NULL,
			snapshot     JSON,
			changed_at   DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_history (
			id                 VARCHAR(36) PRIMARY KEY,
			mode               VARCHAR(16) NOT NULL,
			started_at         DATETIME(6) NOT NULL,
			completed_at       DATETIME(6) NOT NULL,
			items_pushed       INT NOT NULL,
			items_pulled       INT NOT NULL,
			conflicts_resolved INT NOT NULL,
			success            BOOLEAN NOT NULL,
			message            TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) LoadQueue(ctx context.Context) ([]PendingOperation, error) {
	query := `SELECT id, operation, entity_type, entity_id, payload, enqueued_at, retry_count, COALESCE(last_error, '')
			  FROM pending_operations ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []PendingOperation
	for rows.Next() {
		var op PendingOperation
		var payload []byte
		err := rows.Scan(
			&op.ID,
			&op.Operation,
			&op.EntityType,
			&op.EntityID,
			&payload,
			&op.EnqueuedAt,
			&op.RetryCount,
			&op.LastError,
		)
		if err != nil {
			return nil, err
		}
		op.Payload = json.RawMessage(payload)
		ops = append(ops, op)
	}

	return ops, rows.Err()
}

func (s *MySQLStore) SaveQueue(ctx context.Context, ops []PendingOperation) error {
	return s.execTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_operations`); err != nil {
			return err
		}

		query := `INSERT INTO pending_operations (id, operation, entity_type, entity_id, payload, enqueued_at, retry_count, last_error)
				  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		for _, op := range ops {
			payload := []byte(op.Payload)
			if len(payload) == 0 {
				payload = []byte("null")
			}
			_, err := tx.ExecContext(ctx, query,
				op.ID,
				op.Operation,
				op.EntityType,
				op.EntityID,
				payload,
				op.EnqueuedAt,
				op.RetryCount,
				op.LastError,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *MySQLStore) LoadMetadata(ctx context.Context) (*SyncMetadata, error) {
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

func (s *MySQLStore) SaveMetadata(ctx context.Context, meta *SyncMetadata) error {
	doc, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata document: %w", err)
	}

	// Single-row upsert inside a transaction so the end-of-pass metadata
	// update is all-or-nothing.
	return s.execTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO sync_metadata (id, document) VALUES (1, ?)
				  ON DUPLICATE KEY UPDATE document = VALUES(document)`
		_, err := tx.ExecContext(ctx, query, doc)
		return err
	})
}

func (s *MySQLStore) LoadChanges(ctx context.Context) ([]TrackedChange, error) {
	query := `SELECT id, entity_type, entity_id, operation, snapshot, changed_at
			  FROM tracked_changes ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query)
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

func (s *MySQLStore) SaveChanges(ctx context.Context, changes []TrackedChange) error {
	return s.execTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_changes`); err != nil {
			return err
		}

		query := `INSERT INTO tracked_changes (id, entity_type, entity_id, operation, snapshot, changed_at)
				  VALUES (?, ?, ?, ?, ?, ?)`
		for _, c := range changes {
			snapshot := []byte(c.Snapshot)
			if len(snapshot) == 0 {
				snapshot = []byte("null")
			}
			_, err := tx.ExecContext(ctx, query,
				c.ID, c.EntityType, c.EntityID, c.Operation, snapshot, c.ChangedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *MySQLStore) AppendHistory(ctx context.Context, h *SyncHistory) error {
	query := `INSERT INTO sync_history (id, mode, started_at, completed_at, items_pushed, items_pulled, conflicts_resolved, success, message)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.Mode,
		h.StartedAt,
		h.CompletedAt,
		h.ItemsPushed,
		h.ItemsPulled,
		h.ConflictsResolved,
		h.Success,
		h.Message,
	)

	return err
}

func (s *MySQLStore) ListHistory(ctx context.Context, limit int) ([]SyncHistory, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, mode, started_at, completed_at, items_pushed, items_pulled, conflicts_resolved, success, COALESCE(message, '')
			  FROM sync_history ORDER BY started_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []SyncHistory
	for rows.Next() {
		var h SyncHistory
		err := rows.Scan(
			&h.ID,
			&h.Mode,
			&h.StartedAt,
			&h.CompletedAt,
			&h.ItemsPushed,
			&h.ItemsPulled,
			&h.ConflictsResolved,
			&h.Success,
			&h.Message,
		)
		if err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// execTx executes a function within a transaction
func (s *MySQLStore) execTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
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
