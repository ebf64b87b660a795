package mailer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/config"
)

// Simulated is a fake transport for development and tests. It sleeps for a
// configurable latency and fails a configurable fraction of deliveries with
// realistic transport errors.
type Simulated struct {
	successRate float64
	minLatency  time.Duration
	maxLatency  time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

var failureReasons = []string{
	"network timeout",
	"mailbox does not exist",
	"rate limit exceeded",
	"service temporarily unavailable",
	"message rejected by policy",
}

// NewSimulated creates a simulated transport. SuccessRate is the fraction
// of deliveries that succeed, clamped to [0, 1]; a rate of 0 fails every
// delivery.
func NewSimulated(cfg config.SimulatedConfig) *Simulated {
	rate := cfg.SuccessRate
	if rate < 0.0 {
		rate = 0.0
	}
	if rate > 1.0 {
		rate = 1.0
	}
	min := time.Duration(cfg.MinLatencyMS) * time.Millisecond
	max := time.Duration(cfg.MaxLatencyMS) * time.Millisecond
	if max < min {
		max = min
	}
	return &Simulated{
		successRate: rate,
		minLatency:  min,
		maxLatency:  max,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Name implements Transport.
func (s *Simulated) Name() string { return "simulated" }

// Deliver sleeps for the simulated latency, then succeeds or fails according
// to the configured rate. Context cancellation cuts the sleep short.
func (s *Simulated) Deliver(ctx context.Context, msg Message) error {
	s.mu.Lock()
	latency := s.minLatency
	if span := s.maxLatency - s.minLatency; span > 0 {
		latency += time.Duration(s.rand.Int63n(int64(span)))
	}
	roll := s.rand.Float64()
	reason := failureReasons[s.rand.Intn(len(failureReasons))]
	rate := s.successRate
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if roll >= rate {
		return fmt.Errorf("simulated delivery to %s failed: %s", msg.To, reason)
	}
	return nil
}

// SetSuccessRate adjusts the failure behavior. Intended for tests.
func (s *Simulated) SetSuccessRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate < 0.0 {
		rate = 0.0
	}
	if rate > 1.0 {
		rate = 1.0
	}
	s.successRate = rate
}
