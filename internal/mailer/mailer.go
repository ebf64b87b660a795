// Package mailer abstracts email delivery behind a Transport interface.
//
// Two transports exist: AWS SES for production and a simulated sender for
// development and tests. The dispatch engine treats a Deliver error as a
// recoverable per-recipient failure, never as a reason to abort the run.
package mailer

import (
	"context"
	"fmt"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/config"
)

// Message is one rendered email ready for delivery.
type Message struct {
	To          string
	ToName      string
	Subject     string
	HTMLBody    string
	CampaignID  string
	RecipientID string
}

// Transport delivers rendered messages. Implementations must be safe for
// concurrent use; several campaigns can dispatch at once.
type Transport interface {
	// Deliver attempts one delivery. A non-nil error means this message
	// failed; it says nothing about other recipients.
	Deliver(ctx context.Context, msg Message) error

	// Name identifies the transport in logs and metric labels.
	Name() string
}

// New builds the transport selected by the config.
func New(ctx context.Context, cfg config.MailerConfig) (Transport, error) {
	switch cfg.Driver {
	case "ses":
		return NewSES(ctx, cfg)
	case "", "simulated":
		return NewSimulated(cfg.Simulated), nil
	default:
		return nil, fmt.Errorf("unknown mailer driver %q", cfg.Driver)
	}
}
