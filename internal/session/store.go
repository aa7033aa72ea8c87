package session

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"tapcanvas/internal/types"
)

// Snapshot is the persisted state of one conversation: the full message
// history plus the rolling summary and confirmation loop count.
type Snapshot struct {
	Messages  []types.Message
	Summary   string
	LoopCount int

	// Routing outcome of the most recent turn, used to seed the next one.
	LastRole  string
	LastTier  string
	LastAllow bool
}

// Store persists conversations in a local SQLite database. The frontend
// owns the source of truth for a live turn; the store exists so replay and
// the CLI can resume a conversation across process restarts.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// OpenStore initializes the SQLite database at the given path, creating
// parent directories and the schema as needed.
func OpenStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("sqlite pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("conversation store opened", zap.String("path", path))
	return s, nil
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			summary    TEXT NOT NULL DEFAULT '',
			loop_count INTEGER NOT NULL DEFAULT 0,
			last_role  TEXT NOT NULL DEFAULT '',
			last_tier  TEXT NOT NULL DEFAULT '',
			last_allow INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
	}
	return nil
}

// Load returns the stored snapshot for a conversation. An unknown
// conversation yields an empty snapshot, not an error.
func (s *Store) Load(conversationID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{}
	err := s.db.QueryRow(
		"SELECT summary, loop_count, last_role, last_tier, last_allow FROM conversations WHERE id = ?",
		conversationID,
	).Scan(&snap.Summary, &snap.LoopCount, &snap.LastRole, &snap.LastTier, &snap.LastAllow)
	if err == sql.ErrNoRows {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT role, content FROM messages WHERE conversation_id = ? ORDER BY seq",
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		snap.Messages = append(snap.Messages, types.Message{
			Role:    types.MessageRole(role),
			Content: content,
		})
	}
	return snap, rows.Err()
}

// Save replaces the stored state of a conversation with the given snapshot.
// The message list is rewritten wholesale; history is small enough per
// conversation that diffing is not worth the bookkeeping.
func (s *Store) Save(conversationID string, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO conversations (id, summary, loop_count, last_role, last_tier, last_allow, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(id) DO UPDATE SET
		   summary = excluded.summary,
		   loop_count = excluded.loop_count,
		   last_role = excluded.last_role,
		   last_tier = excluded.last_tier,
		   last_allow = excluded.last_allow,
		   updated_at = excluded.updated_at`,
		conversationID, snap.Summary, snap.LoopCount, snap.LastRole, snap.LastTier, snap.LastAllow,
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for i, msg := range snap.Messages {
		_, err := tx.Exec(
			"INSERT INTO messages (conversation_id, seq, role, content) VALUES (?, ?, ?, ?)",
			conversationID, i, string(msg.Role), msg.Content,
		)
		if err != nil {
			return fmt.Errorf("save message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
