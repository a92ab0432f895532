// Package pairing issues and redeems one-time device pairing codes against a
// shared TTL-capable Redis store, and tracks the long-lived device tokens
// minted after a successful pairing.
//
// A pairing code binds an anonymous device to a tenant project exactly once:
// issuance is an atomic set-if-absent with TTL, redemption is an atomic
// get-and-delete. Rate-limit counters for failed redemption attempts live in
// the same store so that all gateway replicas share one failure budget.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Policy defaults. All of them are overridable through Config.
const (
	// DefaultCodeTTL is how long an unredeemed pairing code stays valid.
	DefaultCodeTTL = 5 * time.Minute

	// DefaultMaxGenerateAttempts bounds the set-if-absent retry loop on
	// code collision.
	DefaultMaxGenerateAttempts = 5

	// DefaultRateLimitMax is the number of failed redemptions allowed per
	// identifier per window.
	DefaultRateLimitMax = 5

	// DefaultRateLimitWindow is the fixed rate-limit window.
	DefaultRateLimitWindow = time.Hour
)

var (
	// ErrCodeNotFound is returned by Redeem when the code does not exist,
	// expired, or was already redeemed. The three cases are deliberately
	// indistinguishable to callers.
	ErrCodeNotFound = errors.New("pairing code not found")

	// ErrExhaustedRetries is returned by Generate when every attempted
	// code collided with a live one.
	ErrExhaustedRetries = errors.New("exhausted pairing code generation attempts")

	// ErrTokenNotFound is returned by ValidateDeviceToken when no token is
	// on record for the device.
	ErrTokenNotFound = errors.New("device token not found")

	// ErrTokenMismatch is returned by ValidateDeviceToken when the
	// presented token does not match the one on record.
	ErrTokenMismatch = errors.New("device token mismatch")
)

// Config holds the pairing store configuration.
type Config struct {
	// Addr is the Redis server address, host:port.
	Addr string

	// Password is the optional Redis password.
	Password string

	// DB is the Redis database number.
	DB int

	// KeyPrefix namespaces all keys, e.g. "devicebridge:".
	KeyPrefix string

	// CodeTTL is the pairing code expiry window.
	CodeTTL time.Duration

	// MaxGenerateAttempts bounds the collision retry loop in Generate.
	MaxGenerateAttempts int

	// RateLimitMax is the failed-attempt budget per identifier per window.
	RateLimitMax int

	// RateLimitWindow is the fixed rate-limit window.
	RateLimitWindow time.Duration

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "devicebridge:"
	}
	if c.CodeTTL == 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.MaxGenerateAttempts == 0 {
		c.MaxGenerateAttempts = DefaultMaxGenerateAttempts
	}
	if c.RateLimitMax == 0 {
		c.RateLimitMax = DefaultRateLimitMax
	}
	if c.RateLimitWindow == 0 {
		c.RateLimitWindow = DefaultRateLimitWindow
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// CodeStore issues and redeems pairing codes and device tokens.
// All operations are safe for concurrent use; atomicity is delegated to Redis.
type CodeStore struct {
	client    redis.UniversalClient
	keyPrefix string

	codeTTL         time.Duration
	maxAttempts     int
	rateLimitMax    int
	rateLimitWindow time.Duration
}

// NewCodeStore connects to Redis and returns a CodeStore.
// Returns an error if the connection cannot be established.
func NewCodeStore(ctx context.Context, cfg Config) (*CodeStore, error) {
	cfg.applyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newCodeStore(client, cfg), nil
}

// NewCodeStoreWithClient creates a CodeStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewCodeStoreWithClient(client redis.UniversalClient, cfg Config) *CodeStore {
	cfg.applyDefaults()
	return newCodeStore(client, cfg)
}

func newCodeStore(client redis.UniversalClient, cfg Config) *CodeStore {
	return &CodeStore{
		client:          client,
		keyPrefix:       cfg.KeyPrefix,
		codeTTL:         cfg.CodeTTL,
		maxAttempts:     cfg.MaxGenerateAttempts,
		rateLimitMax:    cfg.RateLimitMax,
		rateLimitWindow: cfg.RateLimitWindow,
	}
}

// Close closes the Redis client connection.
func (s *CodeStore) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *CodeStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// CodeTTL returns the configured pairing code expiry window.
func (s *CodeStore) CodeTTL() time.Duration {
	return s.codeTTL
}

// Generate draws a fresh pairing code for the given project and stores it
// with the configured TTL. SetNX keeps the insert atomic, so a collision with
// a live code simply triggers another draw; after maxAttempts collisions it
// gives up with ErrExhaustedRetries.
func (s *CodeStore) Generate(ctx context.Context, projectID uuid.UUID) (string, time.Time, error) {
	for i := 0; i < s.maxAttempts; i++ {
		code, err := randomCode()
		if err != nil {
			return "", time.Time{}, fmt.Errorf("failed to draw pairing code: %w", err)
		}

		key := codeKey(s.keyPrefix, code)
		ok, err := s.client.SetNX(ctx, key, projectID.String(), s.codeTTL).Result()
		if err != nil {
			return "", time.Time{}, fmt.Errorf("failed to store pairing code: %w", err)
		}
		if ok {
			return code, time.Now().Add(s.codeTTL), nil
		}
	}

	return "", time.Time{}, ErrExhaustedRetries
}

// Redeem consumes a pairing code and returns the project it was issued for.
// The code is normalized to upper case first. GETDEL makes lookup and
// deletion a single atomic step, so concurrent redemptions of the same code
// can never both succeed; any later Redeem sees ErrCodeNotFound.
func (s *CodeStore) Redeem(ctx context.Context, code string) (uuid.UUID, error) {
	key := codeKey(s.keyPrefix, NormalizeCode(code))

	val, err := s.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrCodeNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to redeem pairing code: %w", err)
	}

	projectID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("corrupt pairing code entry: %w", err)
	}
	return projectID, nil
}

// CheckRateLimit reports whether the identifier (typically the device's
// source address) is still within its failed-attempt budget. It does not
// consume budget; only RecordFailure does.
func (s *CodeStore) CheckRateLimit(ctx context.Context, identifier string) (bool, error) {
	key := rateLimitKey(s.keyPrefix, identifier)

	val, err := s.client.Get(ctx, key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}
	return val < s.rateLimitMax, nil
}

// RecordFailure counts one failed redemption attempt against the identifier.
// The first failure in a window starts the window; the counter expires with
// it. Fixed-window semantics are accepted here, a guess burst that straddles
// the boundary can at most double the budget.
func (s *CodeStore) RecordFailure(ctx context.Context, identifier string) error {
	key := rateLimitKey(s.keyPrefix, identifier)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to record pairing failure: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, s.rateLimitWindow).Err(); err != nil {
			return fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}
	return nil
}
