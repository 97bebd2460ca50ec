package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Supported database/sql drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// MessageStore persists scraped chat messages in Postgres or SQLite.
// Dates are stored as unix seconds so both dialects share one schema.
type MessageStore struct {
	db     *sql.DB
	driver string
}

// OpenMessageStore opens a connection, applies the schema and returns a store.
func OpenMessageStore(ctx context.Context, driver, dsn string) (*MessageStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &MessageStore{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *MessageStore) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *MessageStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveMessages inserts messages, leaving rows with an existing id untouched.
// It returns the number of rows actually inserted.
func (s *MessageStore) SaveMessages(ctx context.Context, messages []domain.Message) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO messages (id, chat_id, sender_id, date, text, media)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (chat_id, id) DO NOTHING`))
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	saved := 0
	for _, m := range messages {
		res, err := stmt.ExecContext(ctx,
			m.ID, m.ChatID, m.SenderID, m.Date.Unix(), nullString(m.Text), nullString(m.Media),
		)
		if err != nil {
			return 0, fmt.Errorf("insert message %d: %w", m.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		saved += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return saved, nil
}

// CountByChat returns message counts keyed by chat id.
func (s *MessageStore) CountByChat(ctx context.Context) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, COUNT(id) FROM messages GROUP BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("count by chat: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var chatID int64
		var n int
		if err := rows.Scan(&chatID, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[chatID] = n
	}
	return counts, rows.Err()
}

// ChatText returns the non-empty texts of a chat ordered by date.
func (s *MessageStore) ChatText(ctx context.Context, chatID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT text FROM messages
		 WHERE chat_id = ? AND text IS NOT NULL AND text <> ''
		 ORDER BY date ASC, id ASC`), chatID)
	if err != nil {
		return nil, fmt.Errorf("chat text: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan text: %w", err)
		}
		texts = append(texts, t)
	}
	return texts, rows.Err()
}

// ChatStats returns the per-chat message count and date range.
func (s *MessageStore) ChatStats(ctx context.Context) ([]domain.ChatStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, COUNT(id), MIN(date), MAX(date)
		 FROM messages GROUP BY chat_id ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("chat stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.ChatStats
	for rows.Next() {
		var st domain.ChatStats
		var first, last int64
		if err := rows.Scan(&st.ChatID, &st.Count, &first, &last); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.FirstDate = time.Unix(first, 0).UTC()
		st.LastDate = time.Unix(last, 0).UTC()
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// rebind rewrites ? placeholders to $N for Postgres.
func (s *MessageStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
