package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/itorigin/origin-chat/internal/domain"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore implements Repository on database/sql for SQLite and PostgreSQL.
// Queries are written once with ? placeholders and rebound per driver.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open creates a repository for the given driver and DSN and ensures the schema exists.
func Open(driver, dsn string) (Repository, error) {
	switch driver {
	case DriverSQLite:
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

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return newSQLStore(db, DriverSQLite, sqliteSchema)
}

// NewPostgres creates a new PostgreSQL-backed repository.
func NewPostgres(dsn string) (Repository, error) {
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return newSQLStore(db, DriverPostgres, postgresSchema)
}

func newSQLStore(db *sql.DB, driver, schema string) (*SQLStore, error) {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLStore{db: db, driver: driver}, nil
}

// rebind rewrites ? placeholders to $1..$n for PostgreSQL.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) q(query string) string {
	return rebind(s.driver, query)
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

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateConversation inserts a conversation together with its first message.
func (s *SQLStore) CreateConversation(ctx context.Context, conv *domain.Conversation, first *domain.Message) error {
	if first != nil && first.ConversationID != conv.ID {
		return fmt.Errorf("first message belongs to conversation %q, not %q", first.ConversationID, conv.ID)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var lastMessageAt any
		if first != nil {
			lastMessageAt = first.CreatedAt.UnixMilli()
		}

		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO conversations (id, visitor_name, visitor_email, status, created_at, updated_at, last_message_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			conv.ID, conv.VisitorName, conv.VisitorEmail, string(conv.Status),
			conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(), lastMessageAt,
		)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}

		if first == nil {
			return nil
		}
		if err := s.insertMessage(ctx, tx, first); err != nil {
			return err
		}
		t := first.CreatedAt
		conv.LastMessageAt = &t
		conv.MessageCount = 1
		return nil
	})
}

func (s *SQLStore) insertMessage(ctx context.Context, tx *sql.Tx, msg *domain.Message) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// AppendMessage inserts a message and advances the parent's last_message_at.
func (s *SQLStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		at := msg.CreatedAt.UnixMilli()
		result, err := tx.ExecContext(ctx, s.q(`
			UPDATE conversations
			SET last_message_at = CASE
					WHEN last_message_at IS NULL OR last_message_at < ? THEN ?
					ELSE last_message_at
				END,
				updated_at = ?
			WHERE id = ?`),
			at, at, at, msg.ConversationID,
		)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return s.insertMessage(ctx, tx, msg)
	})
}

const conversationColumns = `
	c.id, c.visitor_name, c.visitor_email, c.status, c.created_at, c.updated_at, c.last_message_at,
	(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var (
		conv                 domain.Conversation
		status               string
		createdAt, updatedAt int64
		lastMessageAt        sql.NullInt64
	)
	if err := row.Scan(
		&conv.ID, &conv.VisitorName, &conv.VisitorEmail, &status,
		&createdAt, &updatedAt, &lastMessageAt, &conv.MessageCount,
	); err != nil {
		return nil, err
	}

	conv.Status = domain.ConversationStatus(status)
	conv.CreatedAt = time.UnixMilli(createdAt).UTC()
	conv.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if lastMessageAt.Valid {
		t := time.UnixMilli(lastMessageAt.Int64).UTC()
		conv.LastMessageAt = &t
	}
	return &conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = ?`), id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return conv, nil
}

// escapeLike escapes LIKE wildcards so the search term matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func conversationWhere(filter domain.ConversationFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != nil {
		clauses = append(clauses, "c.status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Search != "" {
		clauses = append(clauses, `LOWER(c.visitor_email) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(filter.Search))+"%")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListConversations returns a page of conversations, most recently active first.
func (s *SQLStore) ListConversations(ctx context.Context, filter domain.ConversationFilter) ([]*domain.Conversation, int64, error) {
	filter = filter.Normalize()
	where, args := conversationWhere(filter)

	var total int64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM conversations c`+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations c` + where + `
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id DESC
		LIMIT ? OFFSET ?`
	pageArgs := append(append([]any{}, args...), filter.Limit, filter.Offset())

	rows, err := s.db.QueryContext(ctx, s.q(query), pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation rows", "error", closeErr)
		}
	}()

	convs := make([]*domain.Conversation, 0, filter.Limit)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate conversations: %w", err)
	}

	return convs, total, nil
}

// ListMessages returns the conversation's messages ordered by creation time, ties by insertion order.
func (s *SQLStore) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close message rows", "error", closeErr)
		}
	}()

	msgs := make([]*domain.Message, 0)
	for rows.Next() {
		var (
			msg       domain.Message
			role      string
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// UpdateConversationStatus sets a conversation's status. Any transition is allowed.
func (s *SQLStore) UpdateConversationStatus(ctx context.Context, id string, status domain.ConversationStatus, at time.Time) (*domain.Conversation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid conversation status %q", status)
	}

	result, err := s.db.ExecContext(ctx, s.q(`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), at.UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("update conversation status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}
	return s.GetConversation(ctx, id)
}

// DeleteConversation removes a conversation and its messages in one transaction.
func (s *SQLStore) DeleteConversation(ctx context.Context, id string) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.q(`DELETE FROM messages WHERE conversation_id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if deleted, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		result, err = tx.ExecContext(ctx, s.q(`DELETE FROM conversations WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// ArchiveInactive archives active and closed conversations idle since before cutoff.
func (s *SQLStore) ArchiveInactive(ctx context.Context, cutoff, at time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		UPDATE conversations SET status = ?, updated_at = ?
		WHERE status IN (?, ?) AND COALESCE(last_message_at, created_at) < ?
		RETURNING id`),
		string(domain.StatusArchived), at.UnixMilli(),
		string(domain.StatusActive), string(domain.StatusClosed), cutoff.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("archive inactive conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close archived rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan archived id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived ids: %w", err)
	}
	return ids, nil
}
