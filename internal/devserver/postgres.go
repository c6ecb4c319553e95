package devserver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createMessagesTable = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id BIGSERIAL PRIMARY KEY,
	room_id BIGINT NOT NULL,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'TEXT',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages (room_id, id DESC);`

// PostgresHistoryRepo persists messages in Postgres. The global bigserial
// keeps chat ids monotonically increasing within every room.
type PostgresHistoryRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresHistoryRepo(ctx context.Context, databaseURL string) (*PostgresHistoryRepo, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createMessagesTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresHistoryRepo{pool: pool}, nil
}

func (r *PostgresHistoryRepo) Close() {
	r.pool.Close()
}

func (r *PostgresHistoryRepo) Append(ctx context.Context, msg StoredMessage) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (room_id, sender, content, message_type, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		msg.RoomID, msg.Sender, msg.Content, msg.MessageType, msg.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

func (r *PostgresHistoryRepo) ListBefore(ctx context.Context, roomID, before int64, limit int) ([]StoredMessage, bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, room_id, sender, content, message_type, created_at
		 FROM chat_messages
		 WHERE room_id = $1 AND ($2::bigint = 0 OR id < $2)
		 ORDER BY id DESC
		 LIMIT $3`,
		roomID, before, limit+1,
	)
	if err != nil {
		return nil, false, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.ChatID, &m.RoomID, &m.Sender, &m.Content, &m.MessageType, &m.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasNext := len(out) > limit
	if hasNext {
		out = out[:limit]
	}
	return out, hasNext, nil
}

func (r *PostgresHistoryRepo) Newest(ctx context.Context, roomID int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM chat_messages WHERE room_id = $1`, roomID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("newest message: %w", err)
	}
	return id, nil
}
