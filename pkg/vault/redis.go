package vault

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/devidkit/pkg/config"
)

// RedisConfig holds configuration for the Redis-backed store.
type RedisConfig struct {
	ConnectionURL  string        `env:"VAULT_REDIS_URL,required" envDefault:"redis://localhost:6379/0"` // ConnectionURL should be in the format "redis://:password@localhost:6379/0"
	RetryAttempts  int           `env:"VAULT_REDIS_RETRY_ATTEMPTS" envDefault:"3"`                      // RetryAttempts is the number of connection attempts before giving up.
	RetryInterval  time.Duration `env:"VAULT_REDIS_RETRY_INTERVAL" envDefault:"5s"`                     // RetryInterval is the wait between attempts.
	ConnectTimeout time.Duration `env:"VAULT_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`                   // ConnectTimeout bounds the whole connect sequence.
	KeyPrefix      string        `env:"VAULT_REDIS_KEY_PREFIX" envDefault:"devidkit"`                   // KeyPrefix namespaces the credential hash key.
}

// ConnectRedis establishes a Redis connection using the provided
// configuration, retrying on transient failures.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	for range cfg.RetryAttempts {
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		default:
			time.Sleep(cfg.RetryInterval)
		}
	}

	return nil, ErrRedisNotReady
}

// NewRedisStoreFromEnv connects to Redis using environment-provided
// configuration and returns a store on top of the connection.
func NewRedisStoreFromEnv(ctx context.Context) (*RedisStore, error) {
	var cfg RedisConfig
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	client, err := ConnectRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewRedisStore(client, cfg.KeyPrefix), nil
}

// RedisStore persists credentials in a single Redis hash, one field per
// login identifier. Suitable for server hosts that already run Redis.
type RedisStore struct {
	client  *redis.Client
	hashKey string
}

// NewRedisStore creates a store on top of an established Redis client.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "devidkit"
	}
	return &RedisStore{
		client:  client,
		hashKey: keyPrefix + ":credentials",
	}
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.HKeys(ctx, s.hashKey).Result()
	if err != nil {
		return nil, errors.Join(ErrVaultUnavailable, err)
	}
	return ids, nil
}

func (s *RedisStore) Get(ctx context.Context, loginID string) (Credential, error) {
	data, err := s.client.HGet(ctx, s.hashKey, normalizeLoginID(loginID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Credential{}, ErrCredentialNotFound
		}
		return Credential{}, errors.Join(ErrVaultUnavailable, err)
	}

	var cred Credential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		return Credential{}, errors.Join(ErrVaultUnavailable, err)
	}
	return cred, nil
}

func (s *RedisStore) Save(ctx context.Context, loginID string, cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return errors.Join(ErrVaultUnavailable, err)
	}

	if err := s.client.HSet(ctx, s.hashKey, normalizeLoginID(loginID), data).Err(); err != nil {
		return errors.Join(ErrVaultUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, loginID string) error {
	removed, err := s.client.HDel(ctx, s.hashKey, normalizeLoginID(loginID)).Result()
	if err != nil {
		return errors.Join(ErrVaultUnavailable, err)
	}
	if removed == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
