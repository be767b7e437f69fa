package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// SQLStore implements Store on database/sql for SQLite and Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database for the given driver and migrates it.
func Open(driver, dsn string) (*SQLStore, error) {
	dialect := Dialect(driver)
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// For in-memory SQLite, multiple connections create separate databases.
		// Keep a single connection to avoid schema/data disappearing across goroutines.
		if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	store := NewSQLStore(db, dialect)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewSQLiteStore opens and migrates a SQLite database.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	return Open(string(DialectSQLite), dsn)
}

// NewSQLStore wraps an existing connection without migrating it.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// migrate runs database migrations.
func (s *SQLStore) migrate() error {
	for _, m := range s.dialect.schema() {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

// CreateUser creates a new user.
func (s *SQLStore) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := s.exec(ctx,
		`INSERT INTO users (id, email, name, avatar_url, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Email, nullString(user.Name), nullString(user.AvatarURL), user.CreatedAt.UTC())
	return err
}

// GetUser retrieves a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.getUser(ctx, `SELECT id, email, name, avatar_url, created_at FROM users WHERE id = ?`, userID)
}

// GetUserByEmail retrieves a user by email address.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, `SELECT id, email, name, avatar_url, created_at FROM users WHERE email = ?`, email)
}

func (s *SQLStore) getUser(ctx context.Context, query, arg string) (*domain.User, error) {
	var user domain.User
	var name, avatar sql.NullString
	err := s.queryRow(ctx, query, arg).Scan(&user.ID, &user.Email, &name, &avatar, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.Name = name.String
	user.AvatarURL = avatar.String
	return &user, nil
}

// UpsertAccount links a provider account to a user, refreshing its tokens
// when the link already exists. An empty refresh token keeps the stored one.
func (s *SQLStore) UpsertAccount(ctx context.Context, account *domain.Account) error {
	_, err := s.exec(ctx,
		`INSERT INTO accounts (id, user_id, provider, provider_account_id, access_token, refresh_token, token_type, scope, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_account_id) DO UPDATE SET
			user_id = excluded.user_id,
			access_token = excluded.access_token,
			refresh_token = COALESCE(excluded.refresh_token, accounts.refresh_token),
			token_type = excluded.token_type,
			scope = excluded.scope,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		account.ID, account.UserID, account.Provider, account.ProviderAccountID,
		nullString(account.AccessToken), nullString(account.RefreshToken),
		nullString(account.TokenType), nullString(account.Scope), nullTime(account.ExpiresAt),
		account.CreatedAt.UTC(), account.UpdatedAt.UTC())
	return err
}

// GetLatestAccount returns the most recently updated account of a user for a provider.
func (s *SQLStore) GetLatestAccount(ctx context.Context, userID, provider string) (*domain.Account, error) {
	var acc domain.Account
	var access, refresh, tokenType, scope sql.NullString
	var expiresAt sql.NullTime
	err := s.queryRow(ctx,
		`SELECT id, user_id, provider, provider_account_id, access_token, refresh_token, token_type, scope, expires_at, created_at, updated_at
		FROM accounts WHERE user_id = ? AND provider = ? ORDER BY updated_at DESC LIMIT 1`,
		userID, provider).Scan(&acc.ID, &acc.UserID, &acc.Provider, &acc.ProviderAccountID,
		&access, &refresh, &tokenType, &scope, &expiresAt, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	acc.AccessToken = access.String
	acc.RefreshToken = refresh.String
	acc.TokenType = tokenType.String
	acc.Scope = scope.String
	if expiresAt.Valid {
		t := expiresAt.Time
		acc.ExpiresAt = &t
	}
	return &acc, nil
}

// UpdateAccountToken stores a refreshed token for an existing account.
func (s *SQLStore) UpdateAccountToken(ctx context.Context, accountID, accessToken, refreshToken string, expiresAt *time.Time) error {
	_, err := s.exec(ctx,
		`UPDATE accounts SET access_token = ?, refresh_token = COALESCE(?, refresh_token), expires_at = ?, updated_at = ? WHERE id = ?`,
		accessToken, nullString(refreshToken), nullTime(expiresAt), time.Now().UTC(), accountID)
	return err
}

// CreateThread creates a new thread.
func (s *SQLStore) CreateThread(ctx context.Context, thread *domain.Thread) error {
	_, err := s.exec(ctx,
		`INSERT INTO threads (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		thread.ID, thread.UserID, thread.Title, thread.CreatedAt.UTC(), thread.UpdatedAt.UTC())
	return err
}

// GetThread retrieves a thread by ID.
func (s *SQLStore) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	var thread domain.Thread
	err := s.queryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM threads WHERE id = ?`,
		threadID).Scan(&thread.ID, &thread.UserID, &thread.Title, &thread.CreatedAt, &thread.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// ListThreads lists a user's threads, most recently updated first.
func (s *SQLStore) ListThreads(ctx context.Context, userID string) ([]domain.Thread, error) {
	rows, err := s.query(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM threads WHERE user_id = ? ORDER BY updated_at DESC, id DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	threads := []domain.Thread{}
	for rows.Next() {
		var thread domain.Thread
		if err := rows.Scan(&thread.ID, &thread.UserID, &thread.Title, &thread.CreatedAt, &thread.UpdatedAt); err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

// TouchThread moves a thread's updated_at forward.
func (s *SQLStore) TouchThread(ctx context.Context, threadID string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, at.UTC(), threadID)
	return err
}

// DeleteThread removes a thread and its messages in one transaction.
// Spans are kept; they reference the thread only through metadata.
func (s *SQLStore) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM messages WHERE thread_id = ?`), threadID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM threads WHERE id = ?`), threadID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return tx.Commit()
}

// CreateMessage creates a new message.
func (s *SQLStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	_, err := s.exec(ctx,
		`INSERT INTO messages (id, thread_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		message.ID, message.ThreadID, message.UserID, message.Role, message.Content, message.CreatedAt.UTC())
	return err
}

const messageColumns = `id, thread_id, user_id, role, content, created_at`

// ListMessages returns every message of a thread in chronological order.
func (s *SQLStore) ListMessages(ctx context.Context, threadID string) ([]domain.Message, error) {
	rows, err := s.query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE thread_id = ? ORDER BY created_at ASC, id ASC`,
		threadID)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// RecentMessages returns the last limit messages of a thread in chronological order.
func (s *SQLStore) RecentMessages(ctx context.Context, threadID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	rows, err := s.query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE thread_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		threadID, limit)
	if err != nil {
		return nil, err
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SearchMessages finds a user's messages outside one thread that contain any keyword.
func (s *SQLStore) SearchMessages(ctx context.Context, userID, excludeThreadID string, keywords []string, limit int) ([]domain.Message, error) {
	if len(keywords) == 0 || limit <= 0 {
		return []domain.Message{}, nil
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE user_id = ? AND thread_id <> ?`
	args := []any{userID, excludeThreadID}

	clauses := make([]string, len(keywords))
	for i, kw := range keywords {
		clauses[i] = "LOWER(content) LIKE ?"
		args = append(args, "%"+strings.ToLower(kw)+"%")
	}
	query += ` AND (` + strings.Join(clauses, " OR ") + `) ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.UserID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// UpsertSpan writes a span keyed by its id. Columns the incoming write leaves
// null keep their stored value, so a late start write never undoes a seal.
func (s *SQLStore) UpsertSpan(ctx context.Context, span *domain.Span) error {
	_, err := s.exec(ctx,
		`INSERT INTO spans (id, trace_id, parent_span_id, type, name, input, output, metadata, thread_id, user_id, start_time, end_time, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			input = COALESCE(excluded.input, spans.input),
			output = COALESCE(excluded.output, spans.output),
			metadata = COALESCE(excluded.metadata, spans.metadata),
			end_time = COALESCE(excluded.end_time, spans.end_time),
			error = COALESCE(excluded.error, spans.error)`,
		span.ID, span.TraceID, nullStringPtr(span.ParentSpanID), span.Type, span.Name,
		nullJSON(span.Input), nullJSON(span.Output), nullJSON(span.Metadata),
		nullString(span.ThreadID), nullString(span.UserID),
		span.StartTime.UTC(), nullTime(span.EndTime), nullStringPtr(span.Error))
	return err
}

const spanColumns = `id, trace_id, parent_span_id, type, name, input, output, metadata, thread_id, user_id, start_time, end_time, error`

// GetTraceSpans returns all spans of a trace, oldest first.
func (s *SQLStore) GetTraceSpans(ctx context.Context, traceID string) ([]domain.Span, error) {
	rows, err := s.query(ctx,
		`SELECT `+spanColumns+` FROM spans WHERE trace_id = ? ORDER BY start_time ASC, id ASC`,
		traceID)
	if err != nil {
		return nil, err
	}
	return scanSpans(rows)
}

// ListRootSpansByThread returns a user's root spans for a thread, newest first.
func (s *SQLStore) ListRootSpansByThread(ctx context.Context, userID, threadID string) ([]domain.Span, error) {
	rows, err := s.query(ctx,
		`SELECT `+spanColumns+` FROM spans
		WHERE user_id = ? AND thread_id = ? AND (parent_span_id IS NULL OR parent_span_id = '')
		ORDER BY start_time DESC, id DESC`,
		userID, threadID)
	if err != nil {
		return nil, err
	}
	return scanSpans(rows)
}

// ListSpans pages through a user's spans, newest first.
func (s *SQLStore) ListSpans(ctx context.Context, userID string, limit, offset int) ([]domain.Span, error) {
	rows, err := s.query(ctx,
		`SELECT `+spanColumns+` FROM spans WHERE user_id = ? ORDER BY start_time DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanSpans(rows)
}

func scanSpans(rows *sql.Rows) ([]domain.Span, error) {
	defer rows.Close()

	spans := []domain.Span{}
	for rows.Next() {
		var span domain.Span
		var parent, input, output, metadata, threadID, userID, errText sql.NullString
		var endTime sql.NullTime
		if err := rows.Scan(&span.ID, &span.TraceID, &parent, &span.Type, &span.Name,
			&input, &output, &metadata, &threadID, &userID, &span.StartTime, &endTime, &errText); err != nil {
			return nil, err
		}
		if parent.Valid && parent.String != "" {
			p := parent.String
			span.ParentSpanID = &p
		}
		if input.Valid {
			span.Input = json.RawMessage(input.String)
		}
		if output.Valid {
			span.Output = json.RawMessage(output.String)
		}
		if metadata.Valid {
			span.Metadata = json.RawMessage(metadata.String)
		}
		span.ThreadID = threadID.String
		span.UserID = userID.String
		if endTime.Valid {
			t := endTime.Time
			span.EndTime = &t
		}
		if errText.Valid {
			e := errText.String
			span.Error = &e
		}
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
