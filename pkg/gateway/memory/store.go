// Package memory persists conversation exchanges and serves the long-term
// memory context injected into brain prompts.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the memory collaborator a live session depends on.
type Store interface {
	// Context returns the memory context string for a user, empty when
	// nothing is known. Failures degrade to an empty context at the call
	// site; they never fail a turn.
	Context(ctx context.Context, userID string) (string, error)
	// AppendExchange records one completed turn.
	AppendExchange(ctx context.Context, userID, userText, assistantText string) error
	Close()
}

// How many recent exchanges feed the prompt context.
const contextExchangeLimit = 20

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Open migrates the schema and opens a pool.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	if err := Migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Context builds the prompt context from the user's most recent exchanges,
// oldest first.
func (s *PostgresStore) Context(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT user_text, assistant_text
		FROM memory_exchanges
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, contextExchangeLimit)
	if err != nil {
		return "", fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	type exchange struct {
		user      string
		assistant string
	}
	var recent []exchange
	for rows.Next() {
		var e exchange
		if err := rows.Scan(&e.user, &e.assistant); err != nil {
			return "", fmt.Errorf("scan exchange: %w", err)
		}
		recent = append(recent, e)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read exchanges: %w", err)
	}
	if len(recent) == 0 {
		return "", nil
	}

	var b strings.Builder
	for i := len(recent) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "User: %s\nYou: %s\n", recent[i].user, recent[i].assistant)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// AppendExchange records one completed turn.
func (s *PostgresStore) AppendExchange(ctx context.Context, userID, userText, assistantText string) error {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memory_exchanges (user_id, user_text, assistant_text)
		VALUES ($1, $2, $3)`, userID, userText, assistantText)
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Disabled is the Store used when no database is configured. Sessions run
// without long-term memory.
type Disabled struct{}

func (Disabled) Context(context.Context, string) (string, error) { return "", nil }

func (Disabled) AppendExchange(context.Context, string, string, string) error { return nil }

func (Disabled) Close() {}
