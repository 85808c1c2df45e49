package docstore

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "relaydoc:doc:"

// RedisStore keeps each document in a hash at relaydoc:doc:<id>.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStore(dsn string) (*RedisStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(redis.NewClient(opts)), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, keyPrefix: redisKeyPrefix}
}

func (s *RedisStore) Read(ctx context.Context, documentID string) (Document, error) {
	if documentID == "" {
		return Document{}, ErrInvalidInput
	}
	fields, err := s.client.HGetAll(ctx, s.keyPrefix+documentID).Result()
	if err != nil {
		return Document{}, err
	}
	if len(fields) == 0 {
		return Document{}, ErrNotFound
	}
	doc := Document{
		ID:           documentID,
		Content:      fields["content"],
		LastEditedBy: fields["lastEditedBy"],
	}
	if raw := fields["autosaveAt"]; raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Document{}, err
		}
		doc.AutosaveAt = at
	}
	return doc, nil
}

func (s *RedisStore) Write(ctx context.Context, documentID, content, editorUserID string, at time.Time) error {
	if documentID == "" {
		return ErrInvalidInput
	}
	return s.client.HSet(ctx, s.keyPrefix+documentID,
		"content", content,
		"lastEditedBy", editorUserID,
		"autosaveAt", at.UTC().Format(time.RFC3339Nano),
	).Err()
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
