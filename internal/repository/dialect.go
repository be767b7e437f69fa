package repository

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported drivers.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Rebind rewrites ? placeholders into the dialect's bind syntax.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			inQuote = !inQuote
		}
		if ch == '?' && !inQuote {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func (d Dialect) timestampType() string {
	if d == DialectPostgres {
		return "TIMESTAMPTZ"
	}
	return "DATETIME"
}

func (d Dialect) schema() []string {
	ts := d.timestampType()
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT,
			avatar_url TEXT,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			provider TEXT NOT NULL,
			provider_account_id TEXT NOT NULL,
			access_token TEXT,
			refresh_token TEXT,
			token_type TEXT,
			scope TEXT,
			expires_at ` + ts + `,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL,
			UNIQUE (provider, provider_account_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id, provider, updated_at)`,
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_user ON threads(user_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id),
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS spans (
			id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL,
			parent_span_id TEXT,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			input TEXT,
			output TEXT,
			metadata TEXT,
			thread_id TEXT,
			user_id TEXT,
			start_time ` + ts + ` NOT NULL,
			end_time ` + ts + `,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_trace ON spans(trace_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_thread ON spans(thread_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_user ON spans(user_id, start_time)`,
	}
}
