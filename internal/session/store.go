// Package session persists discovery conversation state and transcripts.
//
// The contract with the engine is read at turn start, write at turn
// end: state crosses the boundary as a value and the store never hands
// out shared mutable records. Rows that arrive malformed (unknown
// stage, negative counters) are repaired on load rather than rejected.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/foyerhq/foyer/internal/discovery"
)

// Turn is one transcript line with its classification audit fields.
// Visitor turns carry the pattern, weight, and source the classifier
// assigned; assistant turns carry only role and content.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "visitor" or "assistant"
	Content        string    `json:"content"`
	Pattern        string    `json:"pattern,omitempty"`
	Weight         int       `json:"weight,omitempty"`
	Source         string    `json:"source,omitempty"`
	StageBefore    string    `json:"stage_before,omitempty"`
	StageAfter     string    `json:"stage_after,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store manages session persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a session store at the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session schema: %w", err)
	}
	return s, nil
}

// NewStoreWithDB creates a session store using an existing database
// connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate session schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			conversation_id        TEXT PRIMARY KEY,
			stage                  TEXT NOT NULL,
			name                   TEXT,
			intent                 TEXT,
			honest_strikes         INTEGER NOT NULL DEFAULT 0,
			non_engagement_strikes INTEGER NOT NULL DEFAULT 0,
			turns                  INTEGER NOT NULL DEFAULT 0,
			created_at             TEXT NOT NULL,
			updated_at             TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			pattern         TEXT,
			weight          INTEGER NOT NULL DEFAULT 0,
			source          TEXT,
			stage_before    TEXT,
			stage_after     TEXT,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);
	`)
	return err
}

// Get loads the session state for a conversation. A conversation the
// store has never seen gets a fresh state rather than an error, and
// malformed rows are normalized on the way out.
func (s *Store) Get(ctx context.Context, conversationID string) (discovery.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, stage, name, intent, honest_strikes,
		       non_engagement_strikes, turns, created_at, updated_at
		FROM sessions WHERE conversation_id = ?
	`, conversationID)

	st, err := scanState(row)
	if err == sql.ErrNoRows {
		return discovery.NewState(conversationID), nil
	}
	if err != nil {
		return discovery.State{}, fmt.Errorf("load session: %w", err)
	}
	return st.Normalize(), nil
}

// Save writes the session state, creating the row on first save.
func (s *Store) Save(ctx context.Context, st discovery.State) error {
	if st.ConversationID == "" {
		return fmt.Errorf("conversation id required")
	}

	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = now
	}

	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id FROM sessions WHERE conversation_id = ?`,
		st.ConversationID).Scan(&existing)

	if err == sql.ErrNoRows {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO sessions
				(conversation_id, stage, name, intent, honest_strikes,
				 non_engagement_strikes, turns, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, st.ConversationID, string(st.Stage), st.Name, st.Intent,
			st.HonestStrikes, st.NonEngagementStrikes, st.Turns,
			st.CreatedAt.Format(time.RFC3339), st.UpdatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("check existing session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions
		SET stage = ?, name = ?, intent = ?, honest_strikes = ?,
		    non_engagement_strikes = ?, turns = ?, updated_at = ?
		WHERE conversation_id = ?
	`, string(st.Stage), st.Name, st.Intent, st.HonestStrikes,
		st.NonEngagementStrikes, st.Turns,
		st.UpdatedAt.Format(time.RFC3339), st.ConversationID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Delete removes a session and its transcript. Missing sessions are
// not an error; the caller is cleaning up either way.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// AppendTurn records one transcript line. If t.ID is empty a UUIDv7 is
// generated.
func (s *Store) AppendTurn(ctx context.Context, t Turn) error {
	if t.ConversationID == "" {
		return fmt.Errorf("conversation id required")
	}
	if t.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate turn id: %w", err)
		}
		t.ID = id.String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns
			(id, conversation_id, role, content, pattern, weight, source,
			 stage_before, stage_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ConversationID, t.Role, t.Content, t.Pattern, t.Weight,
		t.Source, t.StageBefore, t.StageAfter,
		t.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// RecentTurns returns the last n transcript lines in conversation
// order, for the classifier's context window.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}

	// rowid preserves insertion order even when timestamps collide.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, pattern, weight, source,
		       stage_before, stage_after, created_at
		FROM turns WHERE conversation_id = ?
		ORDER BY rowid DESC LIMIT ?
	`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}

	// Newest-first from the query; flip to conversation order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Export returns the full transcript in conversation order.
func (s *Store) Export(ctx context.Context, conversationID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, pattern, weight, source,
		       stage_before, stage_after, created_at
		FROM turns WHERE conversation_id = ?
		ORDER BY rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	return collectTurns(rows)
}

// Stats returns session counts by stage.
func (s *Store) Stats() map[string]any {
	var total int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&total)

	stages := make(map[string]int)
	rows, _ := s.db.Query(`SELECT stage, COUNT(*) FROM sessions GROUP BY stage`)
	if rows != nil {
		defer rows.Close()
		for rows.Next() {
			var stage string
			var count int
			if err := rows.Scan(&stage, &count); err != nil {
				continue
			}
			stages[stage] = count
		}
	}

	return map[string]any{
		"total":  total,
		"stages": stages,
	}
}

func scanState(row *sql.Row) (discovery.State, error) {
	var st discovery.State
	var stage, createdStr, updatedStr string
	var name, intent sql.NullString

	err := row.Scan(&st.ConversationID, &stage, &name, &intent,
		&st.HonestStrikes, &st.NonEngagementStrikes, &st.Turns,
		&createdStr, &updatedStr)
	if err != nil {
		return discovery.State{}, err
	}

	st.Stage = discovery.Stage(stage)
	if name.Valid {
		st.Name = name.String
	}
	if intent.Valid {
		st.Intent = intent.String
	}
	st.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)

	return st, nil
}

func collectTurns(rows *sql.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var t Turn
		var pattern, source, stageBefore, stageAfter sql.NullString
		var createdStr string

		err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content,
			&pattern, &t.Weight, &source, &stageBefore, &stageAfter, &createdStr)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}

		if pattern.Valid {
			t.Pattern = pattern.String
		}
		if source.Valid {
			t.Source = source.String
		}
		if stageBefore.Valid {
			t.StageBefore = stageBefore.String
		}
		if stageAfter.Valid {
			t.StageAfter = stageAfter.String
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)

		turns = append(turns, t)
	}
	return turns, rows.Err()
}
