package local

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/creastat/chatsync"
)

// Default key prefix for chat records.
const defaultRedisPrefix = "chat:"

// RedisStore implements Store on Redis.
//
// Layout under the prefix:
//
//	session:<id>  JSON session
//	date:<date>   sorted set of session IDs scored by creation time
//	dates         set of dates holding sessions
//	meta          hash of raw key-value entries
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisStore creates a new Redis-based local store. A zero ttl keeps
// session records forever.
func NewRedisStore(client *redis.Client, ttl time.Duration, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		prefix: prefix,
		logger: logger,
	}
}

// Get implements Store.
// Refreshes TTL on every read.
func (s *RedisStore) Get(ctx context.Context, id string) (*chatsync.ChatSession, error) {
	key := s.sessionKey(id)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	data, ok := s.decode(id, val)
	if !ok {
		return nil, nil
	}

	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			s.logger.Debug("refresh session ttl", "session", id, "err", err)
		}
	}
	return data, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, session *chatsync.ChatSession) error {
	key := s.sessionKey(session.ID)

	var oldDate string
	if old, err := s.client.Get(ctx, key).Result(); err == nil {
		if prev, ok := s.decode(session.ID, old); ok {
			oldDate = prev.Date
		}
	} else if err != redis.Nil {
		return err
	}

	val, err := json.Marshal(session)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, val, s.ttl)
		if oldDate != "" && oldDate != session.Date {
			pipe.ZRem(ctx, s.dateKey(oldDate), session.ID)
		}
		pipe.ZAdd(ctx, s.dateKey(session.Date), redis.Z{
			Score:  float64(session.CreatedAt.UnixMilli()),
			Member: session.ID,
		})
		pipe.SAdd(ctx, s.datesKey(), session.Date)
		return nil
	})
	if err != nil {
		return err
	}

	if oldDate != "" && oldDate != session.Date {
		return s.dropDateIfEmpty(ctx, oldDate)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	key := s.sessionKey(id)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	var date string
	if data, ok := s.decode(id, val); ok {
		date = data.Date
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if date != "" {
			pipe.ZRem(ctx, s.dateKey(date), id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if date == "" {
		return nil
	}
	return s.dropDateIfEmpty(ctx, date)
}

// ListDates implements Store.
func (s *RedisStore) ListDates(ctx context.Context) ([]string, error) {
	dates, err := s.client.SMembers(ctx, s.datesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(dates)

	if s.ttl <= 0 {
		return dates, nil
	}

	// Expired sessions leave index entries behind; only report live dates.
	live := make([]string, 0, len(dates))
	for _, date := range dates {
		sessions, err := s.ListSessionsForDate(ctx, date)
		if err != nil {
			return nil, err
		}
		if len(sessions) > 0 {
			live = append(live, date)
		}
	}
	return live, nil
}

// ListSessionsForDate implements Store.
func (s *RedisStore) ListSessionsForDate(ctx context.Context, date string) ([]*chatsync.ChatSession, error) {
	ids, err := s.client.ZRange(ctx, s.dateKey(date), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := []*chatsync.ChatSession{}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var stale []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		data, ok := s.decode(ids[i], raw)
		if !ok {
			continue
		}
		out = append(out, data)
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.dateKey(date), stale...).Err(); err != nil {
			s.logger.Debug("prune expired session index", "date", date, "err", err)
		} else if err := s.dropDateIfEmpty(ctx, date); err != nil {
			s.logger.Debug("prune empty date", "date", date, "err", err)
		}
	}

	sortSessions(out)
	return out, nil
}

// GetMeta implements Store.
func (s *RedisStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.HGet(ctx, s.metaKey(), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetMeta implements Store.
func (s *RedisStore) SetMeta(ctx context.Context, key, value string) error {
	return s.client.HSet(ctx, s.metaKey(), key, value).Err()
}

// DeleteMeta implements Store.
func (s *RedisStore) DeleteMeta(ctx context.Context, key string) error {
	return s.client.HDel(ctx, s.metaKey(), key).Err()
}

// ListMeta implements Store.
func (s *RedisStore) ListMeta(ctx context.Context, prefix string) (map[string]string, error) {
	all, err := s.client.HGetAll(ctx, s.metaKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for k, v := range all {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func (s *RedisStore) dropDateIfEmpty(ctx context.Context, date string) error {
	n, err := s.client.ZCard(ctx, s.dateKey(date)).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return s.client.SRem(ctx, s.datesKey(), date).Err()
}

func (s *RedisStore) decode(id, raw string) (*chatsync.ChatSession, bool) {
	var data chatsync.ChatSession
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		s.logger.Warn("skipping corrupted local session", "session", id, "err", err)
		return nil, false
	}
	return &data, true
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + "session:" + id }
func (s *RedisStore) dateKey(date string) string { return s.prefix + "date:" + date }
func (s *RedisStore) datesKey() string { return s.prefix + "dates" }
func (s *RedisStore) metaKey() string { return s.prefix + "meta" }

var _ Store = (*RedisStore)(nil)
