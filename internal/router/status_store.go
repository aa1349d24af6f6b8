// internal/router/status_store.go
package router

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"groundlink/internal/config"
	"groundlink/internal/iface"
)

// NewRedisClient creates a client for cfg and checks the connection
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// StatusStore keeps a hash per interface with its latest status. Hashes expire
// so a stopped service leaves no stale state behind.
type StatusStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewStatusStore creates a status store
func NewStatusStore(client redis.Cmdable, prefix string, ttl time.Duration, logger *zap.Logger) *StatusStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "groundlink"
	}
	return &StatusStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "status_store")),
	}
}

// Key returns the hash key of an interface
func (s *StatusStore) Key(name string) string {
	return fmt.Sprintf("%s:interface:%s", s.prefix, name)
}

// Save writes one status
func (s *StatusStore) Save(ctx context.Context, status iface.Status) error {
	key := s.Key(status.Name)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, statusFields(status))
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save status of %s: %w", status.Name, err)
	}
	return nil
}

// Load reads the stored status of an interface
func (s *StatusStore) Load(ctx context.Context, name string) (iface.Status, error) {
	fields, err := s.client.HGetAll(ctx, s.Key(name)).Result()
	if err != nil {
		return iface.Status{}, fmt.Errorf("failed to load status of %s: %w", name, err)
	}
	if len(fields) == 0 {
		return iface.Status{}, fmt.Errorf("no status stored for %s", name)
	}
	return parseStatus(fields)
}

// Run saves the statuses returned by source every interval until ctx ends
func (s *StatusStore) Run(ctx context.Context, interval time.Duration, source func() []iface.Status) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, status := range source() {
			if err := s.Save(ctx, status); err != nil && ctx.Err() == nil {
				s.logger.Warn("Failed to store interface status", zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func statusFields(status iface.Status) map[string]interface{} {
	return map[string]interface{}{
		"name":       status.Name,
		"state":      status.State,
		"clients":    status.Clients,
		"txsize":     status.TxSize,
		"rxsize":     status.RxSize,
		"txbytes":    status.TxBytes,
		"rxbytes":    status.RxBytes,
		"txcnt":      status.TxCount,
		"rxcnt":      status.RxCount,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func parseStatus(fields map[string]string) (iface.Status, error) {
	status := iface.Status{Name: fields["name"], State: fields["state"]}

	ints := map[string]*int{
		"clients": &status.Clients,
		"txsize":  &status.TxSize,
		"rxsize":  &status.RxSize,
	}
	for key, dst := range ints {
		n, err := strconv.Atoi(fields[key])
		if err != nil {
			return status, fmt.Errorf("invalid %s in stored status: %w", key, err)
		}
		*dst = n
	}

	counters := map[string]*int64{
		"txbytes": &status.TxBytes,
		"rxbytes": &status.RxBytes,
		"txcnt":   &status.TxCount,
		"rxcnt":   &status.RxCount,
	}
	for key, dst := range counters {
		n, err := strconv.ParseInt(fields[key], 10, 64)
		if err != nil {
			return status, fmt.Errorf("invalid %s in stored status: %w", key, err)
		}
		*dst = n
	}
	return status, nil
}
