package devserver

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
)

// Key patterns:
// - readmark:{room} - hash of user -> last read chat id
// - mute:{room}:{user} - "1" when muted

// RedisReadState keeps read watermarks and mute flags in Redis so they
// survive devserver restarts.
type RedisReadState struct {
	client *goredis.Client
}

func NewRedisReadState(ctx context.Context, addr, password string, db int) (*RedisReadState, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisReadState{client: client}, nil
}

func markKey(roomID int64) string {
	return fmt.Sprintf("readmark:%d", roomID)
}

func muteKey(roomID int64, user string) string {
	return fmt.Sprintf("mute:%d:%s", roomID, user)
}

func (s *RedisReadState) SetMark(ctx context.Context, roomID int64, user string, lastReadChatID int64) error {
	// Keep the highest watermark; a stale write must not move it back.
	current, err := s.client.HGet(ctx, markKey(roomID), user).Int64()
	if err != nil && err != goredis.Nil {
		return err
	}
	if lastReadChatID <= current {
		return nil
	}
	return s.client.HSet(ctx, markKey(roomID), user, lastReadChatID).Err()
}

func (s *RedisReadState) Marks(ctx context.Context, roomID int64) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, markKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for user, val := range raw {
		mark, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		out[user] = mark
	}
	return out, nil
}

func (s *RedisReadState) SetMuted(ctx context.Context, roomID int64, user string, muted bool) error {
	if muted {
		return s.client.Set(ctx, muteKey(roomID, user), "1", 0).Err()
	}
	return s.client.Del(ctx, muteKey(roomID, user)).Err()
}

func (s *RedisReadState) Muted(ctx context.Context, roomID int64, user string) (bool, error) {
	val, err := s.client.Get(ctx, muteKey(roomID, user)).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}
