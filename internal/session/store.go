package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	vgotel "github.com/bankabc/voicegate/internal/otel"
)

var tracer = vgotel.Tracer("github.com/bankabc/voicegate/internal/session")

const schema = `
CREATE TABLE IF NOT EXISTS call_sessions (
    session_id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL DEFAULT 'guest',
    env_key TEXT NOT NULL,
    verified_identity INTEGER NOT NULL DEFAULT 0,
    verification_attempts INTEGER NOT NULL DEFAULT 0,
    current_flow TEXT NOT NULL DEFAULT '',
    ended INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated ON call_sessions(updated_at);
CREATE INDEX IF NOT EXISTS idx_sessions_ended ON call_sessions(ended);

CREATE TABLE IF NOT EXISTS call_turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    ts TIMESTAMP NOT NULL,
    user_transcript TEXT,
    agent_response TEXT NOT NULL,
    tool_calls TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_turns_session_ts ON call_turns(session_id, ts);

CREATE TABLE IF NOT EXISTS configs (
    env_key TEXT PRIMARY KEY,
    base_system_prompt TEXT NOT NULL,
    router_prompt TEXT NOT NULL DEFAULT '',
    tool_flags TEXT NOT NULL DEFAULT '{}',
    routing_rules TEXT NOT NULL DEFAULT '{}',
    updated_at TIMESTAMP NOT NULL
);
`

// Store persists sessions, turns, and runtime configs in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens the session database and initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating session schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session bound to env. The session starts as an
// unverified guest.
func (s *Store) CreateSession(ctx context.Context, sessionID, envKey string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "session.create",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	now := time.Now().UTC()
	sess := &Session{
		SessionID:  sessionID,
		CustomerID: GuestCustomerID,
		EnvKey:     envKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_sessions (session_id, customer_id, env_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.SessionID, sess.CustomerID, sess.EnvKey, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// GetSession returns one session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "session.get",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, customer_id, env_key, verified_identity, verification_attempts,
		        current_flow, ended, created_at, updated_at
		 FROM call_sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions ordered by updated_at descending.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	ctx, span := tracer.Start(ctx, "session.list")
	defer span.End()

	query := `SELECT session_id, customer_id, env_key, verified_identity, verification_attempts,
	                 current_flow, ended, created_at, updated_at
	          FROM call_sessions ORDER BY updated_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var results []Session
	for rows.Next() {
		var sess Session
		var verified, ended int
		var createdAt, updatedAt interface{}
		if err := rows.Scan(&sess.SessionID, &sess.CustomerID, &sess.EnvKey,
			&verified, &sess.VerificationAttempts, &sess.CurrentFlow, &ended,
			&createdAt, &updatedAt); err != nil {
			continue
		}
		sess.VerifiedIdentity = verified != 0
		sess.Ended = ended != 0
		sess.CreatedAt, _ = scanTime(createdAt)
		sess.UpdatedAt, _ = scanTime(updatedAt)
		results = append(results, sess)
	}
	return results, rows.Err()
}

// SetVerification records a verification outcome: the canonical customer
// binding, the verified flag, and the number of attempts made this turn.
// Binding a verified identity overwrites a guest or stale customer_id.
func (s *Store) SetVerification(ctx context.Context, sessionID, customerID string, verified bool, attemptsDelta int) error {
	ctx, span := tracer.Start(ctx, "session.set_verification",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.Bool("verified", verified),
		))
	defer span.End()

	result, err := s.db.ExecContext(ctx,
		`UPDATE call_sessions
		 SET customer_id = ?, verified_identity = ?,
		     verification_attempts = verification_attempts + ?, updated_at = ?
		 WHERE session_id = ?`,
		customerID, boolInt(verified), attemptsDelta, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("updating verification: %w", err)
	}
	return requireRow(result)
}

// SetFlow records the session's current conversation flow.
func (s *Store) SetFlow(ctx context.Context, sessionID, flow string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE call_sessions SET current_flow = ?, updated_at = ? WHERE session_id = ?`,
		flow, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("updating flow: %w", err)
	}
	return requireRow(result)
}

// Touch bumps updated_at, keeping the idle sweeper away from live sessions.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE call_sessions SET updated_at = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return requireRow(result)
}

// EndSession marks the session ended. Ending an already-ended session
// returns ErrSessionEnded.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "session.end",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Ended {
		return ErrSessionEnded
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE call_sessions SET ended = 1, updated_at = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	return nil
}

// EndIdleSessions ends every live session whose updated_at is older than
// cutoff and returns how many were ended.
func (s *Store) EndIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "session.end_idle")
	defer span.End()

	result, err := s.db.ExecContext(ctx,
		`UPDATE call_sessions SET ended = 1, updated_at = ?
		 WHERE ended = 0 AND updated_at < ?`,
		time.Now().UTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("ending idle sessions: %w", err)
	}
	affected, _ := result.RowsAffected()
	span.SetAttributes(attribute.Int64("sessions_ended", affected))
	return affected, nil
}

// AppendTurn writes one immutable turn record. The caller must have already
// redacted PIN arguments in toolCalls.
func (s *Store) AppendTurn(ctx context.Context, turn *Turn) error {
	ctx, span := tracer.Start(ctx, "session.append_turn",
		trace.WithAttributes(attribute.String("session_id", turn.SessionID)))
	defer span.End()

	if turn.TS.IsZero() {
		turn.TS = time.Now().UTC()
	}
	toolCalls := turn.ToolCalls
	if toolCalls == nil {
		toolCalls = []ToolCallRecord{}
	}
	callsJSON, err := json.Marshal(toolCalls)
	if err != nil {
		return fmt.Errorf("encoding tool calls: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO call_turns (session_id, ts, user_transcript, agent_response, tool_calls)
		 VALUES (?, ?, ?, ?, ?)`,
		turn.SessionID, turn.TS, turn.UserTranscript, turn.AgentResponse, string(callsJSON))
	if err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	turn.ID, _ = result.LastInsertId()
	return nil
}

// Turns returns a session's turns in ascending ts order.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	ctx, span := tracer.Start(ctx, "session.turns",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, ts, user_transcript, agent_response, tool_calls
		 FROM call_turns WHERE session_id = ? ORDER BY ts ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var results []Turn
	for rows.Next() {
		var t Turn
		var ts interface{}
		var transcript sql.NullString
		var callsJSON string
		if err := rows.Scan(&t.ID, &t.SessionID, &ts, &transcript, &t.AgentResponse, &callsJSON); err != nil {
			continue
		}
		t.TS, _ = scanTime(ts)
		if transcript.Valid {
			t.UserTranscript = &transcript.String
		}
		_ = json.Unmarshal([]byte(callsJSON), &t.ToolCalls)
		if t.ToolCalls == nil {
			t.ToolCalls = []ToolCallRecord{}
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// EnsureEnvConfig provisions the environment's config on first touch and
// returns the stored row either way.
func (s *Store) EnsureEnvConfig(ctx context.Context, envKey string, defaults *RuntimeConfig) (*RuntimeConfig, error) {
	ctx, span := tracer.Start(ctx, "config.ensure",
		trace.WithAttributes(attribute.String("env_key", envKey)))
	defer span.End()

	flagsJSON, rulesJSON := configJSONBlobs(defaults)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO configs (env_key, base_system_prompt, router_prompt, tool_flags, routing_rules, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		envKey, defaults.BaseSystemPrompt, defaults.RouterPrompt,
		string(flagsJSON), string(rulesJSON), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("provisioning config: %w", err)
	}
	return s.GetConfig(ctx, envKey)
}

// GetConfig returns the config partition for envKey.
func (s *Store) GetConfig(ctx context.Context, envKey string) (*RuntimeConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT env_key, base_system_prompt, router_prompt, tool_flags, routing_rules, updated_at
		 FROM configs WHERE env_key = ?`, envKey)

	var cfg RuntimeConfig
	var flagsJSON, rulesJSON string
	var updatedAt interface{}
	err := row.Scan(&cfg.EnvKey, &cfg.BaseSystemPrompt, &cfg.RouterPrompt,
		&flagsJSON, &rulesJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying config: %w", err)
	}
	cfg.UpdatedAt, _ = scanTime(updatedAt)
	_ = json.Unmarshal([]byte(flagsJSON), &cfg.ToolFlags)
	_ = json.Unmarshal([]byte(rulesJSON), &cfg.RoutingRules)
	if cfg.ToolFlags == nil {
		cfg.ToolFlags = map[string]bool{}
	}
	if cfg.RoutingRules == nil {
		cfg.RoutingRules = map[string]string{}
	}
	return &cfg, nil
}

// SaveConfig overwrites the config partition for cfg.EnvKey.
func (s *Store) SaveConfig(ctx context.Context, cfg *RuntimeConfig) error {
	ctx, span := tracer.Start(ctx, "config.save",
		trace.WithAttributes(attribute.String("env_key", cfg.EnvKey)))
	defer span.End()

	flagsJSON, rulesJSON := configJSONBlobs(cfg)
	cfg.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO configs (env_key, base_system_prompt, router_prompt, tool_flags, routing_rules, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(env_key) DO UPDATE SET
		     base_system_prompt = excluded.base_system_prompt,
		     router_prompt = excluded.router_prompt,
		     tool_flags = excluded.tool_flags,
		     routing_rules = excluded.routing_rules,
		     updated_at = excluded.updated_at`,
		cfg.EnvKey, cfg.BaseSystemPrompt, cfg.RouterPrompt,
		string(flagsJSON), string(rulesJSON), cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}

// ListEnvironments returns all provisioned env keys.
func (s *Store) ListEnvironments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT env_key FROM configs ORDER BY env_key`)
	if err != nil {
		return nil, fmt.Errorf("listing environments: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func configJSONBlobs(cfg *RuntimeConfig) (flagsJSON, rulesJSON []byte) {
	flagsJSON, _ = json.Marshal(cfg.ToolFlags)
	if cfg.ToolFlags == nil {
		flagsJSON = []byte("{}")
	}
	rulesJSON, _ = json.Marshal(cfg.RoutingRules)
	if cfg.RoutingRules == nil {
		rulesJSON = []byte("{}")
	}
	return flagsJSON, rulesJSON
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(result sql.Result) error {
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var verified, ended int
	var createdAt, updatedAt interface{}
	err := row.Scan(&sess.SessionID, &sess.CustomerID, &sess.EnvKey,
		&verified, &sess.VerificationAttempts, &sess.CurrentFlow, &ended,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sess.VerifiedIdentity = verified != 0
	sess.Ended = ended != 0
	sess.CreatedAt, _ = scanTime(createdAt)
	sess.UpdatedAt, _ = scanTime(updatedAt)
	return &sess, nil
}

// scanTime scans a column that may be time.Time or string (SQLite returns
// datetime as string).
func scanTime(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case []byte:
		return parseSQLiteTime(string(val))
	case string:
		return parseSQLiteTime(val)
	}
	return time.Time{}, false
}

func parseSQLiteTime(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
