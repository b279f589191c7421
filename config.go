package qlock

import (
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultReaderChainThreshold is the reader chain length used when no
// threshold is configured.
const DefaultReaderChainThreshold = 3

// Config defines configurable options for RWLock initialization.
type Config struct {
	// threshold bounds the number of readers linked into one queue slot.
	// Once reached, new readers open a new slot at the tail.
	threshold int

	// wait suspends queued acquirers. Defaults to BlockingWait.
	wait WaitStrategy

	// logger receives debug events about queue transitions and errors on
	// misuse. Defaults to a no-op logger.
	logger *zap.Logger

	// metrics is optional.
	metrics *Metrics

	// clock times parked waits for metrics.
	clock clockwork.Clock
}

func (c *Config) fillDefaults() {
	if c.threshold <= 0 {
		c.threshold = DefaultReaderChainThreshold
	}
	if c.wait == nil {
		c.wait = BlockingWait{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
}

// WithReaderChainThreshold sets the maximum number of readers sharing one
// queue slot. It panics if n < 1.
func WithReaderChainThreshold(n int) func(*Config) {
	if n < 1 {
		panic("qlock: reader chain threshold must be positive")
	}
	return func(c *Config) {
		c.threshold = n
	}
}

// WithSpinWait makes queued acquirers busy-wait for their signal.
func WithSpinWait() func(*Config) {
	return WithWaitStrategy(SpinWait{})
}

// WithBlockingWait makes queued acquirers park on a semaphore. This is the
// default.
func WithBlockingWait() func(*Config) {
	return WithWaitStrategy(BlockingWait{})
}

// WithWaitStrategy installs a custom suspension strategy. A nil strategy
// selects the default.
func WithWaitStrategy(s WaitStrategy) func(*Config) {
	return func(c *Config) {
		c.wait = s
	}
}

// WithLogger sets the logger used for queue transition and misuse events.
func WithLogger(l *zap.Logger) func(*Config) {
	return func(c *Config) {
		c.logger = l
	}
}

// WithMetrics reports acquisitions, wakes and wait times to m.
func WithMetrics(m *Metrics) func(*Config) {
	return func(c *Config) {
		c.metrics = m
	}
}

// WithClock sets the clock used to time parked waits.
func WithClock(clock clockwork.Clock) func(*Config) {
	return func(c *Config) {
		c.clock = clock
	}
}
