package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5000

// Store wraps the SQLite handle and exposes helper methods used by the server.
type Store struct {
	db *sql.DB
}

// Actor is a denormalized user identity attached to messages, reactions, and
// read receipts. Identity is owned by an external system; the store just
// records what it was told.
type Actor struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
}

// WorkOrder is a row in the work_orders table.
type WorkOrder struct {
	ID        int64
	Title     string
	Status    string
	CreatedAt time.Time
}

// Message is a chat message row with its reactions and read receipts loaded.
type Message struct {
	ID              int64
	WorkOrderID     int64
	Sender          *Actor
	MessageType     string
	Content         string
	FileID          *int64
	ParentMessageID *int64
	Edited          bool
	Deleted         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Reactions       []ReactionRow
	ReadBy          []Actor
}

// ReactionRow is one user's reaction on one message.
type ReactionRow struct {
	Reaction string
	User     Actor
}

// StoredFile is an uploaded binary's metadata.
type StoredFile struct {
	ID          int64
	Name        string
	StoragePath string
	Category    string
	SizeBytes   int64
	CreatedAt   time.Time
}

// ErrWorkOrderNotFound is returned for operations on unknown work orders.
var ErrWorkOrderNotFound = errors.New("work order not found")

// ErrMessageNotFound is returned for operations on unknown messages.
var ErrMessageNotFound = errors.New("message not found")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "wochat.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS work_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'OPEN',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			work_order_id INTEGER NOT NULL,
			sender_id INTEGER,
			sender_first_name TEXT,
			sender_last_name TEXT,
			sender_email TEXT,
			message_type TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			file_id INTEGER,
			parent_message_id INTEGER,
			edited INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(work_order_id) REFERENCES work_orders(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_work_order ON messages(work_order_id);`,
		`CREATE TABLE IF NOT EXISTS reactions (
			message_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			first_name TEXT,
			last_name TEXT,
			email TEXT,
			reaction TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, user_id, reaction),
			FOREIGN KEY(message_id) REFERENCES messages(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS read_receipts (
			message_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			first_name TEXT,
			last_name TEXT,
			email TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, user_id),
			FOREIGN KEY(message_id) REFERENCES messages(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			category TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateWorkOrder inserts a work order in the OPEN state.
func (s *Store) CreateWorkOrder(ctx context.Context, title string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO work_orders(title) VALUES(?)`, title)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetWorkOrder fetches a work order by id.
func (s *Store) GetWorkOrder(ctx context.Context, id int64) (*WorkOrder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, status, created_at FROM work_orders WHERE id = ?`, id)
	var wo WorkOrder
	if err := row.Scan(&wo.ID, &wo.Title, &wo.Status, &wo.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkOrderNotFound
		}
		return nil, err
	}
	return &wo, nil
}

// CompleteWorkOrder moves a work order to its terminal state. Idempotent.
func (s *Store) CompleteWorkOrder(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE work_orders SET status='COMPLETE' WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrWorkOrderNotFound
	}
	return nil
}

// InsertMessage persists a message and returns it fully loaded.
func (s *Store) InsertMessage(ctx context.Context, msg Message) (*Message, error) {
	var senderID, firstName, lastName, email interface{}
	if msg.Sender != nil {
		senderID = msg.Sender.ID
		firstName = msg.Sender.FirstName
		lastName = msg.Sender.LastName
		email = msg.Sender.Email
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages(work_order_id, sender_id, sender_first_name, sender_last_name, sender_email,
			message_type, content, file_id, parent_message_id)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.WorkOrderID, senderID, firstName, lastName, email,
		msg.MessageType, msg.Content, msg.FileID, msg.ParentMessageID)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, id)
}

// GetMessage loads one message with reactions and read receipts.
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, work_order_id, sender_id, sender_first_name, sender_last_name, sender_email,
			message_type, content, file_id, parent_message_id, edited, deleted, created_at, updated_at
		FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if err := s.loadMessageRelations(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a work order's messages in insertion order with
// reactions and receipts loaded.
func (s *Store) ListMessages(ctx context.Context, workOrderID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_order_id, sender_id, sender_first_name, sender_last_name, sender_email,
			message_type, content, file_id, parent_message_id, edited, deleted, created_at, updated_at
		FROM messages WHERE work_order_id = ? ORDER BY id ASC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range messages {
		if err := s.loadMessageRelations(ctx, &messages[i]); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var senderID sql.NullInt64
	var firstName, lastName, email sql.NullString
	var fileID, parentID sql.NullInt64
	if err := row.Scan(&msg.ID, &msg.WorkOrderID, &senderID, &firstName, &lastName, &email,
		&msg.MessageType, &msg.Content, &fileID, &parentID, &msg.Edited, &msg.Deleted,
		&msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return nil, err
	}
	if senderID.Valid {
		msg.Sender = &Actor{
			ID:        senderID.Int64,
			FirstName: firstName.String,
			LastName:  lastName.String,
			Email:     email.String,
		}
	}
	if fileID.Valid {
		msg.FileID = &fileID.Int64
	}
	if parentID.Valid {
		msg.ParentMessageID = &parentID.Int64
	}
	return &msg, nil
}

func (s *Store) loadMessageRelations(ctx context.Context, msg *Message) error {
	reactionRows, err := s.db.QueryContext(ctx, `
		SELECT reaction, user_id, first_name, last_name, email
		FROM reactions WHERE message_id = ? ORDER BY created_at ASC`, msg.ID)
	if err != nil {
		return err
	}
	defer reactionRows.Close()
	msg.Reactions = msg.Reactions[:0]
	for reactionRows.Next() {
		var row ReactionRow
		if err := reactionRows.Scan(&row.Reaction, &row.User.ID, &row.User.FirstName, &row.User.LastName, &row.User.Email); err != nil {
			return err
		}
		msg.Reactions = append(msg.Reactions, row)
	}
	if err := reactionRows.Err(); err != nil {
		return err
	}

	receiptRows, err := s.db.QueryContext(ctx, `
		SELECT user_id, first_name, last_name, email
		FROM read_receipts WHERE message_id = ? ORDER BY created_at ASC`, msg.ID)
	if err != nil {
		return err
	}
	defer receiptRows.Close()
	msg.ReadBy = msg.ReadBy[:0]
	for receiptRows.Next() {
		var reader Actor
		if err := receiptRows.Scan(&reader.ID, &reader.FirstName, &reader.LastName, &reader.Email); err != nil {
			return err
		}
		msg.ReadBy = append(msg.ReadBy, reader)
	}
	return receiptRows.Err()
}

// UpdateMessage applies an edit or a soft delete. An edit marks the message
// edited; a delete keeps the row and flips the tombstone flag.
func (s *Store) UpdateMessage(ctx context.Context, id int64, content *string, deleted *bool) (*Message, error) {
	if content != nil {
		result, err := s.db.ExecContext(ctx,
			`UPDATE messages SET content=?, edited=1, updated_at=CURRENT_TIMESTAMP WHERE id=?`, *content, id)
		if err != nil {
			return nil, err
		}
		if rows, err := result.RowsAffected(); err != nil {
			return nil, err
		} else if rows == 0 {
			return nil, ErrMessageNotFound
		}
	}
	if deleted != nil && *deleted {
		result, err := s.db.ExecContext(ctx,
			`UPDATE messages SET deleted=1, updated_at=CURRENT_TIMESTAMP WHERE id=?`, id)
		if err != nil {
			return nil, err
		}
		if rows, err := result.RowsAffected(); err != nil {
			return nil, err
		} else if rows == 0 {
			return nil, ErrMessageNotFound
		}
	}
	return s.GetMessage(ctx, id)
}

// MarkRead records a read receipt. Duplicate acknowledgements are absorbed
// by the primary key, so the add is idempotent.
func (s *Store) MarkRead(ctx context.Context, messageID int64, reader Actor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO read_receipts(message_id, user_id, first_name, last_name, email)
		VALUES(?, ?, ?, ?, ?)`,
		messageID, reader.ID, reader.FirstName, reader.LastName, reader.Email)
	return err
}

// MarkAllRead records receipts for every message on the work order that the
// reader neither sent nor already acknowledged. Returns the ids touched.
func (s *Store) MarkAllRead(ctx context.Context, workOrderID int64, reader Actor) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id FROM messages m
		WHERE m.work_order_id = ?
		  AND (m.sender_id IS NULL OR m.sender_id != ?)
		  AND NOT EXISTS (SELECT 1 FROM read_receipts r WHERE r.message_id = m.id AND r.user_id = ?)
		ORDER BY m.id ASC`, workOrderID, reader.ID, reader.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.MarkRead(ctx, id, reader); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// UnreadCount counts messages the user has not acknowledged and did not send.
func (s *Store) UnreadCount(ctx context.Context, workOrderID, userID int64) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM messages m
		WHERE m.work_order_id = ?
		  AND m.deleted = 0
		  AND (m.sender_id IS NULL OR m.sender_id != ?)
		  AND NOT EXISTS (SELECT 1 FROM read_receipts r WHERE r.message_id = m.id AND r.user_id = ?)`,
		workOrderID, userID, userID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ToggleReaction flips one user's reaction on a message: present removes,
// absent adds. Returns whether the reaction is present afterwards.
func (s *Store) ToggleReaction(ctx context.Context, messageID int64, user Actor, reaction string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	var existing int
	if err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM reactions WHERE message_id=? AND user_id=? AND reaction=?`,
		messageID, user.ID, reaction).Scan(&existing); err != nil {
		return false, err
	}
	present := false
	if existing > 0 {
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM reactions WHERE message_id=? AND user_id=? AND reaction=?`,
			messageID, user.ID, reaction); err != nil {
			return false, err
		}
	} else {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO reactions(message_id, user_id, first_name, last_name, email, reaction)
			VALUES(?, ?, ?, ?, ?, ?)`,
			messageID, user.ID, user.FirstName, user.LastName, user.Email, reaction); err != nil {
			return false, err
		}
		present = true
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return present, nil
}

// Participants returns the distinct message authors on a work order.
func (s *Store) Participants(ctx context.Context, workOrderID int64) ([]Actor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT sender_id, sender_first_name, sender_last_name, sender_email
		FROM messages
		WHERE work_order_id = ? AND sender_id IS NOT NULL
		ORDER BY sender_id ASC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actors []Actor
	for rows.Next() {
		var actor Actor
		var firstName, lastName, email sql.NullString
		if err := rows.Scan(&actor.ID, &firstName, &lastName, &email); err != nil {
			return nil, err
		}
		actor.FirstName = firstName.String
		actor.LastName = lastName.String
		actor.Email = email.String
		actors = append(actors, actor)
	}
	return actors, rows.Err()
}

// InsertFile records upload metadata and returns the durable file id.
func (s *Store) InsertFile(ctx context.Context, name, storagePath, category string, sizeBytes int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO files(name, storage_path, category, size_bytes) VALUES(?, ?, ?, ?)`,
		name, storagePath, category, sizeBytes)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetFile fetches upload metadata by id.
func (s *Store) GetFile(ctx context.Context, id int64) (*StoredFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, storage_path, category, size_bytes, created_at FROM files WHERE id = ?`, id)
	var file StoredFile
	if err := row.Scan(&file.ID, &file.Name, &file.StoragePath, &file.Category, &file.SizeBytes, &file.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return &file, nil
}
