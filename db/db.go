package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"linechat/models"
)

// timeLayout is fixed-width so that timestamps stored as TEXT sort in
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB is the SQLite-backed store.
type DB struct {
	conn   *sql.DB
	logger *zap.Logger
}

func New(path string, logger *zap.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db := &DB{conn: conn, logger: logger}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("sqlite database ready", zap.String("path", path))
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			room_id INTEGER REFERENCES rooms(id),
			receiver_id INTEGER REFERENCES users(id),
			timestamp TEXT NOT NULL,
			CHECK ((room_id IS NULL) <> (receiver_id IS NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_dm ON messages(sender_id, receiver_id, timestamp)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return db.migrate()
}

// migrate adds columns introduced after the first schema version.
func (db *DB) migrate() error {
	if !db.columnExists("users", "created_at") {
		now := time.Now().UTC().Format(timeLayout)
		// SQLite doesn't support parameters in ALTER TABLE
		alterQuery := "ALTER TABLE users ADD COLUMN created_at TEXT NOT NULL DEFAULT '" + now + "'"
		if _, err := db.conn.Exec(alterQuery); err != nil {
			return fmt.Errorf("add users.created_at: %w", err)
		}
	}
	return nil
}

func (db *DB) columnExists(table, column string) bool {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	var count int
	err := db.conn.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// CreateUser stores a new user with a bcrypt hash of password.
// ErrUserExists is returned when the username is taken.
func (db *DB) CreateUser(ctx context.Context, username, password string) error {
	if err := validateCredentials(username, password); err != nil {
		return err
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO users (username, password, created_at) VALUES (?, ?, ?)",
		username, hashed, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Authenticate reports the user id when the credentials match.
func (db *DB) Authenticate(ctx context.Context, username, password string) (int64, bool, error) {
	var id int64
	var hashed string
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, password FROM users WHERE username = ?", username,
	).Scan(&id, &hashed)
	if errors.Is(err, sql.ErrNoRows) {
		checkPassword(string(dummyHash), password)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get user: %w", err)
	}

	if !checkPassword(hashed, password) {
		return 0, false, nil
	}
	return id, true, nil
}

func (db *DB) UsernameOf(ctx context.Context, id int64) (string, error) {
	var username string
	err := db.conn.QueryRowContext(ctx, "SELECT username FROM users WHERE id = ?", id).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return UnknownUsername, nil
	}
	if err != nil {
		return "", fmt.Errorf("get username: %w", err)
	}
	return username, nil
}

func (db *DB) LookupUserID(ctx context.Context, username string) (int64, bool, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, "SELECT id FROM users WHERE username = ?", username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup user: %w", err)
	}
	return id, true, nil
}

// EnsureRoom returns the id of the named room, creating it if needed.
// Names match exactly, case included.
func (db *DB) EnsureRoom(ctx context.Context, name string) (int64, error) {
	if _, err := db.conn.ExecContext(ctx, "INSERT OR IGNORE INTO rooms (name) VALUES (?)", name); err != nil {
		return 0, fmt.Errorf("insert room: %w", err)
	}

	var id int64
	if err := db.conn.QueryRowContext(ctx, "SELECT id FROM rooms WHERE name = ?", name).Scan(&id); err != nil {
		return 0, fmt.Errorf("get room: %w", err)
	}
	return id, nil
}

// RecordMessage persists msg. A zero Timestamp is set to now. The stored
// message is returned with ID and Timestamp populated.
func (db *DB) RecordMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Timestamp = msg.Timestamp.UTC()

	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO messages (sender_id, content, room_id, receiver_id, timestamp) VALUES (?, ?, ?, ?, ?)",
		msg.SenderID, msg.Content, msg.RoomID, msg.ReceiverID, msg.Timestamp.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	msg.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	return &msg, nil
}

func (db *DB) RoomHistory(ctx context.Context, room string) ([]models.HistoryEntry, error) {
	query := `
		SELECT u.username, m.content, m.timestamp
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		JOIN rooms r ON m.room_id = r.id
		WHERE r.name = ?
		ORDER BY m.timestamp ASC, m.id ASC
	`
	return db.history(ctx, query, room)
}

// DMHistory returns the messages exchanged between a and b in both
// directions.
func (db *DB) DMHistory(ctx context.Context, a, b int64) ([]models.HistoryEntry, error) {
	query := `
		SELECT u.username, m.content, m.timestamp
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE (m.sender_id = ? AND m.receiver_id = ?)
		   OR (m.sender_id = ? AND m.receiver_id = ?)
		ORDER BY m.timestamp ASC, m.id ASC
	`
	return db.history(ctx, query, a, b, b, a)
}

func (db *DB) history(ctx context.Context, query string, args ...any) ([]models.HistoryEntry, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]models.HistoryEntry, 0)
	for rows.Next() {
		var e models.HistoryEntry
		var timestampStr string
		if err := rows.Scan(&e.Username, &e.Content, &timestampStr); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}

		timestamp, err := time.Parse(timeLayout, timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", timestampStr, err)
		}
		e.Timestamp = timestamp

		entries = append(entries, e)
	}

	return entries, rows.Err()
}
