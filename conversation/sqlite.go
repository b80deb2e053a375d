package conversation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/meshgate/meshgate/core"
)

// SQLiteStore is a durable ConversationStore. Conversations are serialized as
// JSON documents; WAL mode keeps concurrent readers cheap.
//
// Like InMemoryStore, Get hands out the live *core.Conversation: loaded rows
// are cached so every caller mutates the same instance and Save writes the
// current state through to disk. This preserves the no-lost-updates guarantee
// across the manager and the router while surviving process restarts.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	live map[string]*core.Conversation
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		task_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		last_activity TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &SQLiteStore{db: db, live: map[string]*core.Conversation{}}, nil
}

// Create inserts a new conversation row and caches the live instance.
func (s *SQLiteStore) Create(conv *core.Conversation) error {
	data, state, err := encode(conv)
	if err != nil {
		return err
	}
	snapshot := conv.Clone()
	_, err = s.db.Exec(
		"INSERT INTO conversations (id, state, task_id, data, created_at, last_activity) VALUES (?, ?, ?, ?, ?, ?)",
		conv.ID, state, snapshot.TaskID, data, snapshot.Created.Format(timeLayout), snapshot.LastActivity.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	s.mu.Lock()
	s.live[conv.ID] = conv
	s.mu.Unlock()
	return nil
}

// Get returns the live conversation for id, loading it from disk on first use.
func (s *SQLiteStore) Get(id string) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.live[id]; ok {
		return conv, nil
	}
	var data string
	err := s.db.QueryRow("SELECT data FROM conversations WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	conv, err := decode(data)
	if err != nil {
		return nil, err
	}
	s.live[id] = conv
	return conv, nil
}

// Save writes the conversation's current state through to disk.
func (s *SQLiteStore) Save(conv *core.Conversation) error {
	data, state, err := encode(conv)
	if err != nil {
		return err
	}
	snapshot := conv.Clone()
	_, err = s.db.Exec(
		`INSERT INTO conversations (id, state, task_id, data, created_at, last_activity) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state=excluded.state, data=excluded.data, last_activity=excluded.last_activity`,
		conv.ID, state, snapshot.TaskID, data, snapshot.Created.Format(timeLayout), snapshot.LastActivity.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	s.mu.Lock()
	s.live[conv.ID] = conv
	s.mu.Unlock()
	return nil
}

// List returns the live instance of every stored conversation.
func (s *SQLiteStore) List() ([]*core.Conversation, error) {
	rows, err := s.db.Query("SELECT id FROM conversations ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*core.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, conv.Clone())
	}
	return out, nil
}

// Delete removes a conversation from disk and the live cache.
func (s *SQLiteStore) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func encode(conv *core.Conversation) (data, state string, err error) {
	snapshot := conv.Clone()
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "", "", fmt.Errorf("encode conversation: %w", err)
	}
	return string(raw), string(snapshot.State), nil
}

func decode(data string) (*core.Conversation, error) {
	var conv core.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &conv, nil
}
