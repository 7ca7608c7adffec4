package mailbox

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable persistence capability a Mailbox writes through to
// when one is attached via NewWithStore. Mailboxes built with New have no
// Store and are purely in-memory and session-scoped, the spec's default;
// Store is the documented extension point for deployments that need
// mailbox state to survive a process restart.
type Store interface {
	Save(msg *Message) error
	UpdateStatus(id string, status Status, readAt time.Time) error
	LoadInbox(to string) ([]*Message, error)
}

// SQLStore persists messages to a sqlite database via the pure-Go
// modernc.org/sqlite driver, so deployments don't need cgo to get a
// durable mailbox.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if necessary) a sqlite database at dsn and
// runs its migration.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("mailbox: open sqlite store: %w", err)
	}
	store := &SQLStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		from_agent TEXT,
		to_agent TEXT,
		subject TEXT,
		body TEXT,
		priority INTEGER,
		in_reply_to TEXT,
		status TEXT,
		sent_at DATETIME,
		read_at DATETIME
	)`)
	if err != nil {
		return fmt.Errorf("mailbox: migrate sqlite store: %w", err)
	}
	return nil
}

// Save inserts msg, or updates its status/read_at if the id already exists.
func (s *SQLStore) Save(msg *Message) error {
	_, err := s.db.Exec(`INSERT INTO messages
		(id, from_agent, to_agent, subject, body, priority, in_reply_to, status, sent_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, read_at = excluded.read_at`,
		msg.ID, msg.From, msg.To, msg.Subject, msg.Body, int(msg.Priority), msg.InReplyTo,
		string(msg.Status), msg.SentAt, msg.ReadAt)
	if err != nil {
		return fmt.Errorf("mailbox: save message %s: %w", msg.ID, err)
	}
	return nil
}

// UpdateStatus records a status transition (e.g. unread -> read -> archived).
func (s *SQLStore) UpdateStatus(id string, status Status, readAt time.Time) error {
	_, err := s.db.Exec(`UPDATE messages SET status = ?, read_at = ? WHERE id = ?`, string(status), readAt, id)
	if err != nil {
		return fmt.Errorf("mailbox: update status %s: %w", id, err)
	}
	return nil
}

// LoadInbox returns every message addressed to to, oldest first. Mailbox
// never calls it, so loaded messages are not put back into an in-memory
// queue.
func (s *SQLStore) LoadInbox(to string) ([]*Message, error) {
	rows, err := s.db.Query(`SELECT id, from_agent, to_agent, subject, body, priority, in_reply_to, status, sent_at, read_at
		FROM messages WHERE to_agent = ? ORDER BY sent_at`, to)
	if err != nil {
		return nil, fmt.Errorf("mailbox: load inbox %s: %w", to, err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var msg Message
		var priority int
		var readAt sql.NullTime
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.Subject, &msg.Body, &priority,
			&msg.InReplyTo, &msg.Status, &msg.SentAt, &readAt); err != nil {
			return nil, fmt.Errorf("mailbox: scan message: %w", err)
		}
		msg.Priority = Priority(priority)
		if readAt.Valid {
			msg.ReadAt = readAt.Time
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
