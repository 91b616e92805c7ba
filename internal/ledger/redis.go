package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

// RedisLedger stores entries as JSON strings in a Redis list.
type RedisLedger struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

const redisPingTimeout = 5 * time.Second

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewRedisLedger uses client with the list stored under key.
func NewRedisLedger(client *redis.Client, key string, logger *zap.Logger) (*RedisLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if key == "" {
		return nil, fmt.Errorf("redis ledger key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLedger{client: client, key: key, logger: logger}, nil
}

// Name returns the list key.
func (l *RedisLedger) Name() string {
	return l.key
}

// Append pushes entry to the tail of the list.
func (l *RedisLedger) Append(ctx context.Context, entry corpus.LedgerEntry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := l.client.RPush(ctx, l.key, data).Err(); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Entries returns the whole list, skipping elements that do not decode.
func (l *RedisLedger) Entries(ctx context.Context) ([]corpus.LedgerEntry, error) {
	raw, err := l.client.LRange(ctx, l.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	entries := make([]corpus.LedgerEntry, 0, len(raw))
	for i, item := range raw {
		var entry corpus.LedgerEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil || entry.DocID == "" {
			l.logger.Warn("skipping unreadable ledger element",
				zap.String("ledger", l.key),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Archive renames the list key to its timestamped backup name. A missing key
// leaves nothing to archive.
func (l *RedisLedger) Archive(ctx context.Context, at time.Time) (string, error) {
	n, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return "", fmt.Errorf("check ledger key: %w", err)
	}
	if n == 0 {
		return "", nil
	}
	archived := ArchiveName(l.key, at)
	if err := l.client.Rename(ctx, l.key, archived).Err(); err != nil {
		return "", fmt.Errorf("archive ledger: %w", err)
	}
	return archived, nil
}

// Rewrite replaces the list in one MULTI/EXEC transaction.
func (l *RedisLedger) Rewrite(ctx context.Context, entries []corpus.LedgerEntry) error {
	values := make([]any, 0, len(entries))
	for _, entry := range entries {
		data, err := encodeEntry(entry)
		if err != nil {
			return err
		}
		values = append(values, data)
	}
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, l.key)
		if len(values) > 0 {
			pipe.RPush(ctx, l.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rewrite ledger: %w", err)
	}
	return nil
}
