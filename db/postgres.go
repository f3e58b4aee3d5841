package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"linechat/models"
)

const pgUniqueViolation = "23505"

// IsPostgresURL reports whether dsn selects the PostgreSQL store.
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Postgres is the PostgreSQL-backed store.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgres(ctx context.Context, databaseURL string, logger *zap.Logger) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 20 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}

	p := &Postgres{pool: pool, logger: logger}
	if err := p.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("postgres connection established",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)
	return p, nil
}

func (p *Postgres) Close() error {
	p.logger.Info("closing database connection pool")
	p.pool.Close()
	return nil
}

func (p *Postgres) init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id BIGSERIAL PRIMARY KEY,
			name TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			sender_id BIGINT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			room_id BIGINT REFERENCES rooms(id),
			receiver_id BIGINT REFERENCES users(id),
			timestamp TIMESTAMPTZ NOT NULL,
			CHECK ((room_id IS NULL) <> (receiver_id IS NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_dm ON messages(sender_id, receiver_id, timestamp)`,
	}

	for _, query := range queries {
		if _, err := p.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) CreateUser(ctx context.Context, username, password string) error {
	if err := validateCredentials(username, password); err != nil {
		return err
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO users (username, password, created_at) VALUES ($1, $2, now())`,
		username, hashed,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *Postgres) Authenticate(ctx context.Context, username, password string) (int64, bool, error) {
	var id int64
	var hashed string
	err := p.pool.QueryRow(ctx,
		`SELECT id, password FROM users WHERE username = $1`, username,
	).Scan(&id, &hashed)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (p *Postgres) UsernameOf(ctx context.Context, id int64) (string, error) {
	var username string
	err := p.pool.QueryRow(ctx, `SELECT username FROM users WHERE id = $1`, id).Scan(&username)
	if errors.Is(err, pgx.ErrNoRows) {
		return UnknownUsername, nil
	}
	if err != nil {
		return "", fmt.Errorf("get username: %w", err)
	}
	return username, nil
}

func (p *Postgres) LookupUserID(ctx context.Context, username string) (int64, bool, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `SELECT id FROM users WHERE username = $1`, username).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup user: %w", err)
	}
	return id, true, nil
}

func (p *Postgres) EnsureRoom(ctx context.Context, name string) (int64, error) {
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO rooms (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name,
	); err != nil {
		return 0, fmt.Errorf("insert room: %w", err)
	}

	var id int64
	if err := p.pool.QueryRow(ctx, `SELECT id FROM rooms WHERE name = $1`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("get room: %w", err)
	}
	return id, nil
}

func (p *Postgres) RecordMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Timestamp = msg.Timestamp.UTC()

	err := p.pool.QueryRow(ctx, `
		INSERT INTO messages (sender_id, content, room_id, receiver_id, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		msg.SenderID, msg.Content, msg.RoomID, msg.ReceiverID, msg.Timestamp,
	).Scan(&msg.ID)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (p *Postgres) RoomHistory(ctx context.Context, room string) ([]models.HistoryEntry, error) {
	query := `
		SELECT u.username, m.content, m.timestamp
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		JOIN rooms r ON m.room_id = r.id
		WHERE r.name = $1
		ORDER BY m.timestamp ASC, m.id ASC`
	return p.history(ctx, query, room)
}

func (p *Postgres) DMHistory(ctx context.Context, a, b int64) ([]models.HistoryEntry, error) {
	query := `
		SELECT u.username, m.content, m.timestamp
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE (m.sender_id = $1 AND m.receiver_id = $2)
		   OR (m.sender_id = $2 AND m.receiver_id = $1)
		ORDER BY m.timestamp ASC, m.id ASC`
	return p.history(ctx, query, a, b)
}

func (p *Postgres) history(ctx context.Context, query string, args ...any) ([]models.HistoryEntry, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]models.HistoryEntry, 0)
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.Username, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}
