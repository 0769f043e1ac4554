package tokens

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/tradelane-dev/marketauth/internal/autherr"
)

const redisKeyPrefix = "marketauth:"

// RedisStore implements Store on Redis via rueidis, for deployments where
// several integration workers share one credential set.
type RedisStore struct {
	client rueidis.Client
}

// RedisOptions contains connection settings for the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore wraps an existing rueidis client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromOptions dials Redis with the given options.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the underlying Redis connection.
func (r *RedisStore) Close() {
	r.client.Close()
}

// Save writes the serialized record under the primary key, then the legacy
// mirror. The mirror write only happens after the primary write succeeded.
func (r *RedisStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return autherr.New(autherr.PersistenceFailure, "refusing to save nil record")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return autherr.Wrap(err, autherr.PersistenceFailure, "failed to serialize token record")
	}

	setPrimary := r.client.B().Set().Key(redisKeyPrefix + PrimaryKey).Value(string(data)).Build()
	if err := r.client.Do(ctx, setPrimary).Error(); err != nil {
		return autherr.Wrap(err, autherr.PersistenceFailure, "failed to write token record to redis")
	}

	setMirror := r.client.B().Set().Key(redisKeyPrefix + MirrorKey).Value(rec.AccessToken).Build()
	if err := r.client.Do(ctx, setMirror).Error(); err != nil {
		return autherr.Wrap(err, autherr.PersistenceFailure, "failed to write legacy token mirror to redis")
	}
	return nil
}

// Load reads and deserializes the primary key.
func (r *RedisStore) Load(ctx context.Context) (*Record, error) {
	get := r.client.B().Get().Key(redisKeyPrefix + PrimaryKey).Build()
	raw, err := r.client.Do(ctx, get).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, autherr.Wrap(err, autherr.PersistenceFailure, "failed to read token record from redis")
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, autherr.Wrap(err, autherr.PersistenceFailure, "stored token record is corrupt")
	}
	return &rec, nil
}

// Clear deletes both keys. Idempotent.
func (r *RedisStore) Clear(ctx context.Context) error {
	del := r.client.B().Del().Key(redisKeyPrefix+PrimaryKey, redisKeyPrefix+MirrorKey).Build()
	if err := r.client.Do(ctx, del).Error(); err != nil {
		return autherr.Wrap(err, autherr.PersistenceFailure, "failed to clear stored tokens in redis")
	}
	return nil
}
