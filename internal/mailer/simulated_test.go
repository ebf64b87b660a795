package mailer

import (
	"context"
	"testing"
	"time"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/config"
)

func TestSimulatedAlwaysSucceeds(t *testing.T) {
	tr := NewSimulated(config.SimulatedConfig{SuccessRate: 1.0})
	for i := 0; i < 20; i++ {
		if err := tr.Deliver(context.Background(), Message{To: "a@example.com"}); err != nil {
			t.Fatalf("Deliver() error at rate 1.0: %v", err)
		}
	}
}

func TestSimulatedAlwaysFails(t *testing.T) {
	tr := NewSimulated(config.SimulatedConfig{SuccessRate: 0.0})
	err := tr.Deliver(context.Background(), Message{To: "a@example.com"})
	if err == nil {
		t.Fatal("Deliver() at rate 0.0 should fail")
	}
}

func TestSimulatedCancelledContext(t *testing.T) {
	tr := NewSimulated(config.SimulatedConfig{SuccessRate: 1.0, MinLatencyMS: 5000, MaxLatencyMS: 5000})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := tr.Deliver(ctx, Message{To: "a@example.com"})
	if err == nil {
		t.Fatal("Deliver() should fail when the context expires")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Deliver() did not honor cancellation, took %v", elapsed)
	}
}

func TestNewSelectsDriver(t *testing.T) {
	tr, err := New(context.Background(), config.MailerConfig{Driver: "simulated"})
	if err != nil {
		t.Fatalf("New(simulated) error: %v", err)
	}
	if tr.Name() != "simulated" {
		t.Errorf("Name() = %s, want simulated", tr.Name())
	}

	if _, err := New(context.Background(), config.MailerConfig{Driver: "carrier-pigeon"}); err == nil {
		t.Error("New() should reject unknown drivers")
	}
}
