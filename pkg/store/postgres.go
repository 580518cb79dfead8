package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/accountdesk/accountdesk/pkg/config"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// Postgres stores both collections in PostgreSQL. The mail message body is a
// JSONB document so the record keeps its {text, html} shape.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// NewPostgres opens a connection pool and verifies it with a ping.
func NewPostgres(ctx context.Context, cfg config.Store, log *zap.SugaredLogger) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	lifetime, err := config.ParseDuration("store.maxConnLifetime", cfg.MaxConnLifetime, 30*time.Minute)
	if err != nil {
		log.Warn(err)
	}
	poolConfig.MaxConnLifetime = lifetime
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Infow("Connected to database",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
		"maxConns", poolConfig.MaxConns)

	return &Postgres{pool: pool, log: log}, nil
}

// Migrate creates the tables and indexes if they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	p.log.Info("Database schema is up to date")
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) AddMail(ctx context.Context, rec MailRecord) (MailRecord, error) {
	if err := rec.Validate(); err != nil {
		return MailRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Sent = false
	rec.SentAt = nil

	body, err := json.Marshal(rec.Message)
	if err != nil {
		return MailRecord{}, fmt.Errorf("marshal message: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO mail (id, recipient, subject, message, sent, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`, rec.ID, rec.To, rec.Subject, body, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return MailRecord{}, fmt.Errorf("mail %s: %w", rec.ID, ErrAlreadyExists)
		}
		return MailRecord{}, fmt.Errorf("insert mail: %w", err)
	}
	return rec, nil
}

func (p *Postgres) QueryUnsent(ctx context.Context, limit int) ([]MailRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("query limit must be positive, got %d", limit)
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, recipient, subject, message, sent, sent_at, created_at
		FROM mail
		WHERE sent = FALSE
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsent mail: %w", err)
	}
	defer rows.Close()

	var out []MailRecord
	for rows.Next() {
		rec, err := scanMail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unsent mail: %w", err)
	}
	return out, nil
}

func (p *Postgres) MarkSent(ctx context.Context, ids []string) (err error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var found int
	if err = tx.QueryRow(ctx, `SELECT count(*) FROM mail WHERE id = ANY($1)`, ids).Scan(&found); err != nil {
		return fmt.Errorf("count mail: %w", err)
	}
	if found != len(ids) {
		err = fmt.Errorf("%d of %d mail records: %w", len(ids)-found, len(ids), ErrNotFound)
		return err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE mail SET sent = TRUE, sent_at = now()
		WHERE id = ANY($1) AND sent = FALSE
	`, ids); err != nil {
		return fmt.Errorf("mark mail sent: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *Postgres) GetMail(ctx context.Context, id string) (MailRecord, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, recipient, subject, message, sent, sent_at, created_at
		FROM mail WHERE id = $1
	`, id)
	rec, err := scanMail(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return MailRecord{}, fmt.Errorf("mail %s: %w", id, ErrNotFound)
	}
	return rec, err
}

func (p *Postgres) CreateUser(ctx context.Context, user UserRecord) error {
	if user.Role == "" {
		user.Role = DefaultRole
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO users (uid, email, first_name, last_name, phone, address, photo_url,
			role, email_verified, provider, password_hash, created_at, last_login)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, user.UID, user.Email, user.FirstName, user.LastName, user.Phone, user.Address, user.PhotoURL,
		user.Role, user.EmailVerified, user.Provider, user.PasswordHash, user.CreatedAt, user.LastLogin)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.UID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *Postgres) GetUser(ctx context.Context, uid string) (UserRecord, error) {
	return p.getUser(ctx, `WHERE uid = $1`, uid)
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	return p.getUser(ctx, `WHERE lower(email) = $1`, NormalizeEmail(email))
}

func (p *Postgres) getUser(ctx context.Context, where string, arg string) (UserRecord, error) {
	var u UserRecord
	err := p.pool.QueryRow(ctx, `
		SELECT uid, email, first_name, last_name, phone, address, photo_url,
			role, email_verified, provider, password_hash, created_at, last_login
		FROM users `+where, arg).Scan(
		&u.UID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.Address, &u.PhotoURL,
		&u.Role, &u.EmailVerified, &u.Provider, &u.PasswordHash, &u.CreatedAt, &u.LastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRecord{}, fmt.Errorf("user %s: %w", arg, ErrNotFound)
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (p *Postgres) UpdateUser(ctx context.Context, user UserRecord) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE users SET email = $2, first_name = $3, last_name = $4, phone = $5, address = $6,
			photo_url = $7, role = $8, email_verified = $9, provider = $10, password_hash = $11,
			last_login = $12
		WHERE uid = $1
	`, user.UID, user.Email, user.FirstName, user.LastName, user.Phone, user.Address,
		user.PhotoURL, user.Role, user.EmailVerified, user.Provider, user.PasswordHash, user.LastLogin)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user with email %s: %w", user.Email, ErrAlreadyExists)
		}
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", user.UID, ErrNotFound)
	}
	return nil
}

func scanMail(row pgx.Row) (MailRecord, error) {
	var (
		rec  MailRecord
		body []byte
	)
	if err := row.Scan(&rec.ID, &rec.To, &rec.Subject, &body, &rec.Sent, &rec.SentAt, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MailRecord{}, err
		}
		return MailRecord{}, fmt.Errorf("scan mail: %w", err)
	}
	if err := json.Unmarshal(body, &rec.Message); err != nil {
		return MailRecord{}, fmt.Errorf("decode message of mail %s: %w", rec.ID, err)
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
