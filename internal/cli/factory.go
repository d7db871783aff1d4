package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/latch"
	"github.com/aretw0/latch/internal/config"
	"github.com/aretw0/latch/internal/runtime"
	"github.com/aretw0/latch/pkg/adapters/file"
	"github.com/aretw0/latch/pkg/adapters/memory"
	"github.com/aretw0/latch/pkg/adapters/redis"
	"github.com/aretw0/latch/pkg/analytics"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/observability"
	"github.com/aretw0/latch/pkg/persistence/middleware"
	"github.com/aretw0/latch/pkg/ports"
	"github.com/aretw0/latch/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// keySalt scopes keys derived from the configured encryption secret.
const keySalt = "latch/credentials"

// Stack is every collaborator the commands share, assembled from Config.
type Stack struct {
	Client    *latch.Client
	Transport *transport.Transport
	Store     ports.CredentialStore
	Locker    ports.DistributedLocker
	Analytics *analytics.Batcher
	Metrics   *observability.Metrics
	Registry  *prometheus.Registry
	Logger    *slog.Logger

	redis *redis.Store
}

// OpenStore builds the configured credential store, sealed with the
// encryption middleware when a key is set. The redis store is also returned
// so callers can share its client.
func OpenStore(cfg config.StoreConfig) (ports.CredentialStore, *redis.Store, error) {
	var store ports.CredentialStore
	var rs *redis.Store
	switch cfg.Backend {
	case config.BackendMemory:
		store = memory.NewStore()
	case config.BackendFile:
		store = file.New(cfg.Dir)
	case config.BackendRedis:
		rs = redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, redis.WithPrefix(cfg.RedisPrefix))
		store = rs
	default:
		return nil, nil, fmt.Errorf("unknown credential store %q", cfg.Backend)
	}

	if cfg.EncryptionKey != "" {
		key, err := middleware.DeriveKey([]byte(cfg.EncryptionKey), keySalt)
		if err != nil {
			return nil, nil, err
		}
		store = middleware.Chain(store, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	return store, rs, nil
}

// NewStack assembles the client. The device identity comes from config,
// then from the last persisted session, and is generated last.
func NewStack(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Stack, error) {
	store, rs, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	device := domain.Device{
		DeviceID:       cfg.Device.DeviceID,
		UUID:           cfg.Device.UUID,
		PhoneID:        cfg.Device.PhoneID,
		FamilyDeviceID: cfg.Device.FamilyDeviceID,
		AdvertisingID:  cfg.Device.AdvertisingID,
	}
	if prev, err := latch.LoadSession(ctx, store); err == nil {
		device = mergeDevice(device, prev.Device)
	} else if !errors.Is(err, domain.ErrNoActiveSession) {
		logger.Warn("Stored session unreadable", "error", err)
	}
	device = runtime.CompleteDevice(device)

	topts := []transport.Option{transport.WithDevice(device), transport.WithLogger(logger)}
	if cfg.UserAgent != "" {
		topts = append(topts, transport.WithUserAgent(cfg.UserAgent))
	}
	tr, err := transport.New(cfg.BaseURL, topts...)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	batcher := analytics.NewBatcher(tr, analytics.WithLogger(logger))

	s := &Stack{
		Transport: tr,
		Store:     store,
		Analytics: batcher,
		Metrics:   metrics,
		Registry:  registry,
		Logger:    logger,
		redis:     rs,
	}
	opts := []latch.Option{
		latch.WithLogger(logger),
		latch.WithDevice(device),
		latch.WithCredentialStore(store),
		latch.WithAnalytics(batcher),
		latch.WithMaxChallengeRounds(cfg.MaxChallengeRounds),
		latch.WithRetryPolicy(latch.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		}),
		latch.WithLifecycleHooks(observability.Combine(observability.LoggingHooks(logger), metrics.Hooks())),
	}
	if rs != nil {
		s.Locker = redis.NewLocker(rs.Client(), cfg.Store.RedisPrefix)
		opts = append(opts, latch.WithLocker(s.Locker))
	}
	s.Client = latch.New(tr, opts...)
	return s, nil
}

// Close flushes pending analytics and releases the redis connection.
func (s *Stack) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Analytics.Close(ctx)
	if s.redis != nil {
		err = errors.Join(err, s.redis.Close())
	}
	return err
}

func mergeDevice(primary, fallback domain.Device) domain.Device {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return domain.Device{
		DeviceID:       pick(primary.DeviceID, fallback.DeviceID),
		UUID:           pick(primary.UUID, fallback.UUID),
		PhoneID:        pick(primary.PhoneID, fallback.PhoneID),
		FamilyDeviceID: pick(primary.FamilyDeviceID, fallback.FamilyDeviceID),
		AdvertisingID:  pick(primary.AdvertisingID, fallback.AdvertisingID),
	}
}
