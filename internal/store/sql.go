package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/amora/internal/domain"
	"github.com/ashureev/amora/internal/shared"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Supported DB_DRIVER values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore implements Repository on database/sql through sqlx.
// Queries are written with '?' placeholders and rebound for the driver.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	retry  shared.RetryPolicy
	// seqRetry recomputes a message seq that lost a race to another writer.
	seqRetry shared.RetryPolicy
}

// Open creates a repository for the given driver ("sqlite" or "postgres").
func Open(driver, dsn string) (Repository, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLite(dsn)
	case DriverPostgres:
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers; foreign keys for message cascade.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLStore(db, DriverSQLite)
}

// NewPostgres creates a new PostgreSQL-backed repository using the pgx driver.
func NewPostgres(dsn string) (Repository, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is empty")
	}
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLStore(db, DriverPostgres)
}

func newSQLStore(db *sqlx.DB, driver string) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		retry:  shared.DefaultRetryPolicy,
		seqRetry: shared.RetryPolicy{
			MaxRetries: 5,
			BaseDelay:  10 * time.Millisecond,
			Retryable:  shared.IsConflictOrDuplicate,
		},
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		personality TEXT NOT NULL DEFAULT '',
		webhook_url TEXT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		woman_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		created_at BIGINT NOT NULL,
		UNIQUE (user_id, woman_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chats_woman ON chats(woman_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_type TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		content TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		seq BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat_order ON messages(chat_id, created_at, seq)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_chat_seq ON messages(chat_id, seq)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		woman_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		key_prefix TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		last_used_at BIGINT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		woman_id TEXT NOT NULL,
		status TEXT NOT NULL,
		current_period_end BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_pair ON subscriptions(user_id, woman_id)`,
	`CREATE TABLE IF NOT EXISTS free_access_periods (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		woman_id TEXT,
		starts_at BIGINT NOT NULL,
		ends_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_free_access_user ON free_access_periods(user_id, ends_at)`,
}

func (s *SQLStore) initSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	return s.db.Rebind(query)
}

// exec runs a write, retrying on SQLite lock contention.
func (s *SQLStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := shared.RetryOnConflict(ctx, s.retry, op, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, s.q(query), args...)
		return execErr
	})
	return res, err
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type profileRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Personality string         `db:"personality"`
	WebhookURL  sql.NullString `db:"webhook_url"`
	CreatedAt   int64          `db:"created_at"`
}

func (r profileRow) toDomain() *domain.Profile {
	return &domain.Profile{
		ID:          r.ID,
		Name:        r.Name,
		Personality: r.Personality,
		WebhookURL:  r.WebhookURL.String,
		CreatedAt:   fromNanos(r.CreatedAt),
	}
}

// CreateProfile inserts a profile.
func (s *SQLStore) CreateProfile(ctx context.Context, profile *domain.Profile) error {
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, "create_profile",
		`INSERT INTO profiles (id, name, personality, webhook_url, created_at) VALUES (?, ?, ?, ?, ?)`,
		profile.ID, profile.Name, profile.Personality, nullString(profile.WebhookURL), toNanos(profile.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by id.
func (s *SQLStore) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT id, name, personality, webhook_url, created_at FROM profiles WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return row.toDomain(), nil
}

// ListProfiles returns all profiles ordered by name.
func (s *SQLStore) ListProfiles(ctx context.Context) ([]*domain.Profile, error) {
	var rows []profileRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, personality, webhook_url, created_at FROM profiles ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]*domain.Profile, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

type chatRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	WomanID   string `db:"woman_id"`
	CreatedAt int64  `db:"created_at"`
}

func (r chatRow) toDomain() *domain.Chat {
	return &domain.Chat{ID: r.ID, UserID: r.UserID, WomanID: r.WomanID, CreatedAt: fromNanos(r.CreatedAt)}
}

func (s *SQLStore) getChat(ctx context.Context, query string, args ...any) (*domain.Chat, error) {
	var row chatRow
	err := s.db.GetContext(ctx, &row, s.q(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return row.toDomain(), nil
}

// GetChat retrieves a chat by id.
func (s *SQLStore) GetChat(ctx context.Context, id string) (*domain.Chat, error) {
	return s.getChat(ctx, `SELECT id, user_id, woman_id, created_at FROM chats WHERE id = ?`, id)
}

// GetChatForPair retrieves the chat between a user and a profile.
func (s *SQLStore) GetChatForPair(ctx context.Context, userID, womanID string) (*domain.Chat, error) {
	return s.getChat(ctx, `SELECT id, user_id, woman_id, created_at FROM chats WHERE user_id = ? AND woman_id = ?`, userID, womanID)
}

// CreateChat inserts the chat for the pair unless it exists, then returns the stored row.
func (s *SQLStore) CreateChat(ctx context.Context, userID, womanID string) (*domain.Chat, error) {
	_, err := s.exec(ctx, "create_chat",
		`INSERT INTO chats (id, user_id, woman_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, woman_id) DO NOTHING`,
		uuid.NewString(), userID, womanID, toNanos(time.Now().UTC()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	chat, err := s.GetChatForPair(ctx, userID, womanID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, fmt.Errorf("chat for user %s and profile %s missing after insert", userID, womanID)
	}
	return chat, nil
}

type messageRow struct {
	ID          string `db:"id"`
	ChatID      string `db:"chat_id"`
	SenderType  string `db:"sender_type"`
	MessageType string `db:"message_type"`
	Content     string `db:"content"`
	CreatedAt   int64  `db:"created_at"`
	Seq         int64  `db:"seq"`
}

// InsertMessage appends a message to its chat.
func (s *SQLStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = domain.MessageText
	}

	query := s.q(`INSERT INTO messages (id, chat_id, sender_type, message_type, content, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE chat_id = ?))
		RETURNING seq`)
	// Concurrent writers can compute the same seq; the unique index rejects the
	// loser, which retries with a fresh MAX(seq).
	err := shared.RetryOnConflict(ctx, s.seqRetry, "insert_message", func() error {
		return s.db.QueryRowxContext(ctx, query,
			msg.ID, msg.ChatID, string(msg.SenderType), string(msg.MessageType), msg.Content,
			toNanos(msg.CreatedAt), msg.ChatID,
		).Scan(&msg.Seq)
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns a chat's messages in chronological order.
func (s *SQLStore) ListMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT id, chat_id, sender_type, message_type, content, created_at, seq
		FROM messages WHERE chat_id = ?
		ORDER BY created_at ASC, seq ASC, id ASC`), chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Message{
			ID:          r.ID,
			ChatID:      r.ChatID,
			SenderType:  domain.SenderType(r.SenderType),
			MessageType: domain.MessageType(r.MessageType),
			Content:     r.Content,
			CreatedAt:   fromNanos(r.CreatedAt),
			Seq:         r.Seq,
		})
	}
	return out, nil
}

// DeleteUserData removes every chat of a user and its messages, returning the
// ids of the erased chats.
func (s *SQLStore) DeleteUserData(ctx context.Context, userID string) ([]string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin erase: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var chatIDs []string
	if err := tx.SelectContext(ctx, &chatIDs, tx.Rebind(`SELECT id FROM chats WHERE user_id = ?`), userID); err != nil {
		return nil, fmt.Errorf("list user chats: %w", err)
	}
	// Explicit delete so erasure does not depend on foreign key enforcement.
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM messages WHERE chat_id IN (SELECT id FROM chats WHERE user_id = ?)`), userID); err != nil {
		return nil, fmt.Errorf("delete user messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chats WHERE user_id = ?`), userID); err != nil {
		return nil, fmt.Errorf("delete user chats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit erase: %w", err)
	}
	return chatIDs, nil
}

type apiKeyRow struct {
	ID         string        `db:"id"`
	WomanID    string        `db:"woman_id"`
	KeyPrefix  string        `db:"key_prefix"`
	KeyHash    string        `db:"key_hash"`
	Active     int           `db:"active"`
	LastUsedAt sql.NullInt64 `db:"last_used_at"`
	CreatedAt  int64         `db:"created_at"`
}

func (r apiKeyRow) toDomain() *domain.APIKey {
	k := &domain.APIKey{
		ID:        r.ID,
		WomanID:   r.WomanID,
		KeyPrefix: r.KeyPrefix,
		KeyHash:   r.KeyHash,
		Active:    r.Active != 0,
		CreatedAt: fromNanos(r.CreatedAt),
	}
	if r.LastUsedAt.Valid {
		ts := fromNanos(r.LastUsedAt.Int64)
		k.LastUsedAt = &ts
	}
	return k
}

const apiKeyColumns = `id, woman_id, key_prefix, key_hash, active, last_used_at, created_at`

// CreateAPIKey stores a hashed API key.
func (s *SQLStore) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	active := 0
	if key.Active {
		active = 1
	}
	_, err := s.exec(ctx, "create_api_key",
		`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES (?, ?, ?, ?, ?, NULL, ?)`,
		key.ID, key.WomanID, key.KeyPrefix, key.KeyHash, active, toNanos(key.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (s *SQLStore) selectAPIKeys(ctx context.Context, query string, args ...any) ([]*domain.APIKey, error) {
	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("select api keys: %w", err)
	}
	out := make([]*domain.APIKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// FindAPIKeysByPrefix returns all keys with the given prefix.
func (s *SQLStore) FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]*domain.APIKey, error) {
	return s.selectAPIKeys(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = ?`, prefix)
}

// ListAPIKeys returns the keys of one profile, newest first.
func (s *SQLStore) ListAPIKeys(ctx context.Context, womanID string) ([]*domain.APIKey, error) {
	return s.selectAPIKeys(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE woman_id = ? ORDER BY created_at DESC`, womanID)
}

// TouchAPIKey records the last time a key was used.
func (s *SQLStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	if _, err := s.exec(ctx, "touch_api_key", `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, toNanos(at), id); err != nil {
		return fmt.Errorf("update api key last_used_at: %w", err)
	}
	return nil
}

// SetAPIKeyActive activates or revokes a key.
func (s *SQLStore) SetAPIKeyActive(ctx context.Context, id string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := s.exec(ctx, "set_api_key_active", `UPDATE api_keys SET active = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("update api key active: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("api key %s not found", id)
	}
	return nil
}

type subscriptionRow struct {
	ID               string `db:"id"`
	UserID           string `db:"user_id"`
	WomanID          string `db:"woman_id"`
	Status           string `db:"status"`
	CurrentPeriodEnd int64  `db:"current_period_end"`
	CreatedAt        int64  `db:"created_at"`
}

// UpsertSubscription creates or updates a subscription by id.
func (s *SQLStore) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, "upsert_subscription", `
		INSERT INTO subscriptions (id, user_id, woman_id, status, current_period_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			current_period_end = excluded.current_period_end`,
		sub.ID, sub.UserID, sub.WomanID, sub.Status, toNanos(sub.CurrentPeriodEnd), toNanos(sub.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// ActiveSubscription returns the longest-running subscription valid at the given time.
func (s *SQLStore) ActiveSubscription(ctx context.Context, userID, womanID string, at time.Time) (*domain.Subscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT id, user_id, woman_id, status, current_period_end, created_at
		FROM subscriptions
		WHERE user_id = ? AND woman_id = ? AND status IN (?, ?) AND current_period_end > ?
		ORDER BY current_period_end DESC LIMIT 1`),
		userID, womanID, domain.SubscriptionActive, domain.SubscriptionTrialing, toNanos(at),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return &domain.Subscription{
		ID:               row.ID,
		UserID:           row.UserID,
		WomanID:          row.WomanID,
		Status:           row.Status,
		CurrentPeriodEnd: fromNanos(row.CurrentPeriodEnd),
		CreatedAt:        fromNanos(row.CreatedAt),
	}, nil
}

type freeAccessRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	WomanID   sql.NullString `db:"woman_id"`
	StartsAt  int64          `db:"starts_at"`
	EndsAt    int64          `db:"ends_at"`
	CreatedAt int64          `db:"created_at"`
}

// CreateFreeAccess stores a free access window.
func (s *SQLStore) CreateFreeAccess(ctx context.Context, period *domain.FreeAccessPeriod) error {
	if period.ID == "" {
		period.ID = uuid.NewString()
	}
	if period.CreatedAt.IsZero() {
		period.CreatedAt = time.Now().UTC()
	}
	if !period.EndsAt.After(period.StartsAt) {
		return fmt.Errorf("free access period must end after it starts")
	}
	_, err := s.exec(ctx, "create_free_access", `
		INSERT INTO free_access_periods (id, user_id, woman_id, starts_at, ends_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		period.ID, period.UserID, nullString(strings.TrimSpace(period.WomanID)),
		toNanos(period.StartsAt), toNanos(period.EndsAt), toNanos(period.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert free access period: %w", err)
	}
	return nil
}

// ActiveFreeAccess returns the free access window containing the given time.
func (s *SQLStore) ActiveFreeAccess(ctx context.Context, userID, womanID string, at time.Time) (*domain.FreeAccessPeriod, error) {
	var row freeAccessRow
	ts := toNanos(at)
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT id, user_id, woman_id, starts_at, ends_at, created_at
		FROM free_access_periods
		WHERE user_id = ? AND (woman_id = ? OR woman_id IS NULL) AND starts_at <= ? AND ends_at > ?
		ORDER BY ends_at DESC LIMIT 1`),
		userID, womanID, ts, ts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active free access: %w", err)
	}
	return &domain.FreeAccessPeriod{
		ID:        row.ID,
		UserID:    row.UserID,
		WomanID:   row.WomanID.String,
		StartsAt:  fromNanos(row.StartsAt),
		EndsAt:    fromNanos(row.EndsAt),
		CreatedAt: fromNanos(row.CreatedAt),
	}, nil
}
