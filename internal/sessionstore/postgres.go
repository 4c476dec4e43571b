package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/pkg/models"

	// Registers the "postgres" database/sql driver used by PostgresStore.
	_ "github.com/lib/pq"
)

// PostgresStore is the relational backend: tables sessions, messages,
// compacts with FKs to sessions(id) ON DELETE CASCADE, matching the
// reference schema in spec §6. DSN scheme selects the driver name; callers
// that want a driver-agnostic relational store (tests, sqlite) construct
// PostgresStore directly with an already-open *sql.DB instead of calling
// Open.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to dsn using the "postgres" driver (github.com/lib/pq) and
// returns a ready PostgresStore. Callers are responsible for running the
// schema migration in Schema() once against a fresh database.
func Open(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an already-open *sql.DB, used by tests against a
// sqlmock driver and by callers using an alternate database/sql driver
// (mattn/go-sqlite3, modernc.org/sqlite) behind the same relational schema.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// Schema is the reference relational schema from spec §6. Callers run this
// once via a migration tool; the store itself never executes DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL DEFAULT '',
	agent_id        TEXT NOT NULL,
	parent_id       TEXT REFERENCES sessions(id) ON DELETE CASCADE,
	state           TEXT NOT NULL,
	current_leaf_id TEXT,
	total_input_tokens       BIGINT NOT NULL DEFAULT 0,
	total_output_tokens      BIGINT NOT NULL DEFAULT 0,
	total_cache_read_tokens  BIGINT NOT NULL DEFAULT 0,
	total_cache_write_tokens BIGINT NOT NULL DEFAULT 0,
	total_cost_usd  DOUBLE PRECISION NOT NULL DEFAULT 0,
	todos           JSONB,
	plan            JSONB,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON sessions (tenant_id);
CREATE INDEX IF NOT EXISTS idx_sessions_parent ON sessions (parent_id);
CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions (state);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions (expires_at) WHERE expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS messages (
	uuid               TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	parent_uuid        TEXT,
	role               TEXT NOT NULL,
	content            JSONB NOT NULL,
	is_sidechain       BOOLEAN NOT NULL DEFAULT FALSE,
	is_compact_summary BOOLEAN NOT NULL DEFAULT FALSE,
	input_tokens       INT NOT NULL DEFAULT 0,
	output_tokens      INT NOT NULL DEFAULT 0,
	cache_read_tokens  INT NOT NULL DEFAULT 0,
	cache_write_tokens INT NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages (session_id, created_at);

CREATE TABLE IF NOT EXISTS compacts (
	id                 TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	logical_parent_id  TEXT NOT NULL,
	summary_message_id TEXT NOT NULL,
	pre_tokens         INT NOT NULL,
	post_tokens        INT NOT NULL,
	saved_tokens       INT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_compacts_session ON compacts (session_id);
`

func (s *PostgresStore) Save(ctx context.Context, sess *models.Session) error {
	todos, err := json.Marshal(sess.Todos)
	if err != nil {
		return err
	}
	plan, err := json.Marshal(sess.Plan)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, tenant_id, agent_id, parent_id, state, current_leaf_id,
			total_input_tokens, total_output_tokens, total_cache_read_tokens, total_cache_write_tokens,
			total_cost_usd, todos, plan, created_at, updated_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state, current_leaf_id = EXCLUDED.current_leaf_id,
			total_input_tokens = EXCLUDED.total_input_tokens, total_output_tokens = EXCLUDED.total_output_tokens,
			total_cache_read_tokens = EXCLUDED.total_cache_read_tokens, total_cache_write_tokens = EXCLUDED.total_cache_write_tokens,
			total_cost_usd = EXCLUDED.total_cost_usd, todos = EXCLUDED.todos, plan = EXCLUDED.plan,
			updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at`,
		sess.ID, sess.TenantID, sess.AgentID, sess.ParentID, sess.State, sess.CurrentLeafID,
		sess.TotalUsage.InputTokens, sess.TotalUsage.OutputTokens, sess.TotalUsage.CacheReadTokens, sess.TotalUsage.CacheWriteTokens,
		sess.TotalCostUSD, todos, plan, sess.CreatedAt, sess.UpdatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("sessionstore: save: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*models.Session, []models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, agent_id, parent_id, state, current_leaf_id,
			total_input_tokens, total_output_tokens, total_cache_read_tokens, total_cache_write_tokens,
			total_cost_usd, todos, plan, created_at, updated_at, expires_at
		FROM sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sessionstore: load: %w", err)
	}

	msgs, err := s.loadMessages(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var todos, plan []byte
	if err := row.Scan(
		&sess.ID, &sess.TenantID, &sess.AgentID, &sess.ParentID, &sess.State, &sess.CurrentLeafID,
		&sess.TotalUsage.InputTokens, &sess.TotalUsage.OutputTokens, &sess.TotalUsage.CacheReadTokens, &sess.TotalUsage.CacheWriteTokens,
		&sess.TotalCostUSD, &todos, &plan, &sess.CreatedAt, &sess.UpdatedAt, &sess.ExpiresAt,
	); err != nil {
		return nil, err
	}
	if len(todos) > 0 {
		_ = json.Unmarshal(todos, &sess.Todos)
	}
	if len(plan) > 0 {
		_ = json.Unmarshal(plan, &sess.Plan)
	}
	return &sess, nil
}

func (s *PostgresStore) loadMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, session_id, parent_uuid, role, content, is_sidechain, is_compact_summary,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, created_at
		FROM messages WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: load messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var content []byte
		var usage models.Usage
		if err := rows.Scan(&m.UUID, &m.SessionID, &m.ParentID, &m.Role, &content,
			&m.IsSidechain, &m.IsCompactSummary,
			&usage.InputTokens, &usage.OutputTokens, &usage.CacheReadTokens, &usage.CacheWriteTokens,
			&m.CreatedAt); err != nil {
			return nil, err
		}
		if usage != (models.Usage{}) {
			m.Usage = &usage
		}
		if len(content) > 0 {
			_ = json.Unmarshal(content, &m.Content)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("sessionstore: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Session, error) {
	query := `SELECT id, tenant_id, agent_id, parent_id, state, current_leaf_id,
		total_input_tokens, total_output_tokens, total_cache_read_tokens, total_cache_write_tokens,
		total_cost_usd, todos, plan, created_at, updated_at, expires_at FROM sessions WHERE TRUE`
	var args []any
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list: %w", err)
	}
	defer rows.Close()
	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListChildren(ctx context.Context, id string) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, agent_id, parent_id, state, current_leaf_id,
			total_input_tokens, total_output_tokens, total_cache_read_tokens, total_cache_write_tokens,
			total_cost_usd, todos, plan, created_at, updated_at, expires_at
		FROM sessions WHERE parent_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list children: %w", err)
	}
	defer rows.Close()
	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID string, m models.Message, price models.ModelPrice) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessionstore: begin: %w", err)
	}
	defer tx.Rollback()

	content, err := json.Marshal(m.Content)
	if err != nil {
		return err
	}
	var usage models.Usage
	if m.Usage != nil {
		usage = *m.Usage
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (uuid, session_id, parent_uuid, role, content, is_sidechain, is_compact_summary,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.UUID, sessionID, m.ParentID, m.Role, content, m.IsSidechain, m.IsCompactSummary,
		usage.InputTokens, usage.OutputTokens, usage.CacheReadTokens, usage.CacheWriteTokens, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("sessionstore: insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET current_leaf_id = $1,
			total_input_tokens = total_input_tokens + $2,
			total_output_tokens = total_output_tokens + $3,
			total_cache_read_tokens = total_cache_read_tokens + $4,
			total_cache_write_tokens = total_cache_write_tokens + $5,
			total_cost_usd = total_cost_usd + $6,
			updated_at = $7
		WHERE id = $8`,
		m.UUID, usage.InputTokens, usage.OutputTokens, usage.CacheReadTokens, usage.CacheWriteTokens,
		price.CostUSD(usage), time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("sessionstore: update session: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) Fork(ctx context.Context, sourceSessionID, leafID, newSessionID string) (*models.Session, error) {
	src, msgs, err := s.Load(ctx, sourceSessionID)
	if err != nil {
		return nil, err
	}
	branch := Branch(msgs, leafID)

	parentRef := sourceSessionID
	child := &models.Session{
		ID: newSessionID, TenantID: src.TenantID, AgentID: src.AgentID,
		ParentID: &parentRef, State: models.SessionActive,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.Save(ctx, child); err != nil {
		return nil, err
	}

	idMap := make(map[string]string, len(branch))
	for _, m := range branch {
		newID := uuid.NewString()
		idMap[m.UUID] = newID
		cp := m
		cp.UUID = newID
		cp.SessionID = newSessionID
		cp.IsSidechain = true
		if cp.ParentID != nil {
			if mapped, ok := idMap[*cp.ParentID]; ok {
				cp.ParentID = &mapped
			} else {
				cp.ParentID = nil
			}
		}
		if err := s.AppendMessage(ctx, newSessionID, cp, models.ModelPrice{}); err != nil {
			return nil, err
		}
	}
	reloaded, _, err := s.Load(ctx, newSessionID)
	return reloaded, err
}
