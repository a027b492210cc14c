package nostrdiary

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultConcurrency = 8
	defaultPublishRate = 2.0
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	keyFile       string
	passphrase    string
	secretKeyHex  string
	mnemonic      string
	mnemonicPass  string
	account       uint32
	database      string
	relays        []string
	timeout       time.Duration
	retries       int
	retryOn       []int
	concurrency   int
	publishRate   float64
	logger        *slog.Logger
	registry      *prometheus.Registry
	metricsActive bool

	// Polling configuration
	pollingInitialInterval   time.Duration
	pollingMaxBackoff        time.Duration
	pollingBackoffMultiplier float64
	pollingJitterFactor      float64
}

// Option configures the client.
type Option func(*clientConfig)

// WithKeyFile loads the identity from an encrypted key file, creating one
// when the file does not exist. A legacy plaintext file is migrated to an
// encrypted one when passphrase is set.
func WithKeyFile(path, passphrase string) Option {
	return func(c *clientConfig) {
		c.keyFile = path
		c.passphrase = passphrase
	}
}

// WithSecretKeyHex uses a hex-encoded secret key as the identity.
func WithSecretKeyHex(secretHex string) Option {
	return func(c *clientConfig) {
		c.secretKeyHex = secretHex
	}
}

// WithMnemonic derives the identity from a BIP-39 mnemonic along the NIP-06
// path m/44'/1237'/account'/0/0.
func WithMnemonic(mnemonic, passphrase string, account uint32) Option {
	return func(c *clientConfig) {
		c.mnemonic = mnemonic
		c.mnemonicPass = passphrase
		c.account = account
	}
}

// WithDatabase opens the SQLite diary store at path.
// Without it entry operations fail with ErrNoStore.
func WithDatabase(path string) Option {
	return func(c *clientConfig) {
		c.database = path
	}
}

// WithRelays sets the default relays for publishing and fetching.
func WithRelays(urls ...string) Option {
	return func(c *clientConfig) {
		c.relays = append([]string(nil), urls...)
	}
}

// WithTimeout bounds every relay operation whose context has no deadline.
// Default: 30 seconds
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetries sets the number of retries for relay connections.
// Default: 3
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		c.retries = count
	}
}

// WithRetryOn sets the handshake HTTP status codes that trigger a retry.
// Status 0 stands for a connection that failed before any response.
// Default: [0, 408, 429, 500, 502, 503, 504]
func WithRetryOn(statusCodes []int) Option {
	return func(c *clientConfig) {
		c.retryOn = statusCodes
	}
}

// WithConcurrency sets how many gift wraps are unwrapped in parallel.
// Default: 8
func WithConcurrency(n int) Option {
	return func(c *clientConfig) {
		c.concurrency = n
	}
}

// WithPublishRate caps publishes per second across all relays. One limiter
// is shared by every connection. Zero or less disables pacing.
// Default: 2
func WithPublishRate(perSecond float64) Option {
	return func(c *clientConfig) {
		c.publishRate = perSecond
	}
}

// WithLogger sets the logger. Values under secret-looking keys are redacted
// before they reach it. Default: discard.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithMetrics registers the client's Prometheus collectors on reg.
// A nil reg uses a private registry. Clients given the same registry share
// one set of collectors.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *clientConfig) {
		c.registry = reg
		c.metricsActive = true
	}
}

// WithPollingInitialInterval sets the initial inbox polling interval.
// This is the interval used while gift wraps are actively arriving.
// Default: 2 seconds
func WithPollingInitialInterval(interval time.Duration) Option {
	return func(c *clientConfig) {
		c.pollingInitialInterval = interval
	}
}

// WithPollingMaxBackoff sets the maximum polling backoff interval.
// When no new gift wraps arrive, the polling interval increases up to this maximum.
// Default: 30 seconds
func WithPollingMaxBackoff(maxBackoff time.Duration) Option {
	return func(c *clientConfig) {
		c.pollingMaxBackoff = maxBackoff
	}
}

// WithPollingBackoffMultiplier sets the backoff multiplier for polling.
// After each poll with no changes, the interval is multiplied by this factor.
// Default: 1.5
func WithPollingBackoffMultiplier(multiplier float64) Option {
	return func(c *clientConfig) {
		c.pollingBackoffMultiplier = multiplier
	}
}

// WithPollingJitterFactor sets the jitter factor for polling intervals.
// Random jitter up to this fraction of the interval is added to prevent
// synchronized polling across multiple clients.
// Default: 0.3 (30%)
func WithPollingJitterFactor(factor float64) Option {
	return func(c *clientConfig) {
		c.pollingJitterFactor = factor
	}
}
