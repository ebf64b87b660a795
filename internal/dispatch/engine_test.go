package dispatch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/dispatch"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/domain"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/mailer"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/repository/memory"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/service/campaign"
)

// scriptTransport fails deliveries to listed addresses and records every
// attempt in order.
type scriptTransport struct {
	mu       sync.Mutex
	fail     map[string]bool
	attempts []string
	bodies   []string
}

func (s *scriptTransport) Deliver(ctx context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, msg.To)
	s.bodies = append(s.bodies, msg.HTMLBody)
	if s.fail[msg.To] {
		return errors.New("smtp 550 mailbox unavailable")
	}
	return nil
}

func (s *scriptTransport) Name() string { return "script" }

func (s *scriptTransport) attempted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.attempts...)
}

// gateTransport parks every delivery until the gate yields a token. Used to
// hold a run mid-flight from the test.
type gateTransport struct {
	mu       sync.Mutex
	gate     chan struct{}
	attempts []string
}

func (g *gateTransport) Deliver(ctx context.Context, msg mailer.Message) error {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.mu.Lock()
	g.attempts = append(g.attempts, msg.To)
	g.mu.Unlock()
	return nil
}

func (g *gateTransport) Name() string { return "gate" }

func (g *gateTransport) attempted() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.attempts...)
}

func newEngine(t *testing.T, repo campaign.Repository, tr mailer.Transport) *dispatch.Engine {
	t.Helper()
	eng := dispatch.New(repo, tr, nil, nil, dispatch.Config{
		TrackingBaseURL: "http://localhost:8081",
		DeliverTimeout:  2 * time.Second,
	})
	t.Cleanup(eng.Stop)
	return eng
}

func seedCampaign(t *testing.T, repo *memory.CampaignRepo, emails ...string) string {
	t.Helper()
	ctx := context.Background()

	c := &domain.Campaign{
		Name:    "August promo",
		Subject: "Deals inside",
		Body:    `<html><body><a href="https://shop.example.com/sale">shop</a></body></html>`,
		Status:  domain.CampaignDraft,
	}
	id, err := repo.Create(ctx, c)
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	for _, email := range emails {
		rec := &domain.Recipient{CampaignID: id, Email: email}
		if _, err := repo.AddRecipient(ctx, rec); err != nil {
			t.Fatalf("add recipient %s: %v", email, err)
		}
	}
	return id
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRunDeliversInOrderAndFinalizes(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCampaignRepo()
	tr := &scriptTransport{}
	eng := newEngine(t, repo, tr)

	id := seedCampaign(t, repo, "a@example.com", "b@example.com", "c@example.com")

	if err := eng.Run(ctx, id); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	got := tr.attempted()
	if len(got) != len(want) {
		t.Fatalf("attempted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery order %v, want %v", got, want)
		}
	}

	c, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != domain.CampaignSent {
		t.Errorf("status = %s, want sent", c.Status)
	}
	if c.CompletedAt == nil {
		t.Error("completed_at not stamped")
	}
	if c.SentCount != 3 {
		t.Errorf("sent count = %d, want 3", c.SentCount)
	}

	recs, _ := repo.ListRecipients(ctx, id, "")
	for _, rec := range recs {
		if rec.State != domain.RecipientSent {
			t.Errorf("recipient %s state = %s, want sent", rec.Email, rec.State)
		}
		if rec.SentAt == nil {
			t.Errorf("recipient %s missing sent_at", rec.Email)
		}
	}
}

func TestPartialFailureDoesNotAbortRun(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCampaignRepo()
	tr := &scriptTransport{fail: map[string]bool{
		"b@example.com": true,
		"d@example.com": true,
	}}
	eng := newEngine(t, repo, tr)

	id := seedCampaign(t, repo,
		"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com")

	if err := eng.Run(ctx, id); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := tr.attempted(); len(got) != 5 {
		t.Fatalf("attempted %d deliveries, want all 5", len(got))
	}

	c, _ := repo.Get(ctx, id)
	if c.Status != domain.CampaignSent {
		t.Errorf("status = %s, want sent despite failures", c.Status)
	}

	stats, err := repo.RecomputeStats(ctx, id)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.SentCount != 3 || stats.FailedCount != 2 || stats.PendingCount != 0 {
		t.Errorf("stats = %+v, want 3 sent / 2 failed / 0 pending", stats)
	}

	recs, _ := repo.ListRecipients(ctx, id, domain.RecipientFailed)
	if len(recs) != 2 {
		t.Fatalf("failed recipients = %d, want 2", len(recs))
	}
	for _, rec := range recs {
		if !strings.Contains(rec.FailReason, "550") {
			t.Errorf("recipient %s fail reason = %q", rec.Email, rec.FailReason)
		}
	}
}

func TestAllFailedMarksCampaignFailed(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCampaignRepo()
	tr := &scriptTransport{fail: map[string]bool{
		"a@example.com": true,
		"b@example.com": true,
	}}
	eng := newEngine(t, repo, tr)

	id := seedCampaign(t, repo, "a@example.com", "b@example.com")

	if err := eng.Run(ctx, id); err != nil {
		t.Fatalf("run: %v", err)
	}

	c, _ := repo.Get(ctx, id)
	if c.Status != domain.CampaignFailed {
		t.Errorf("status = %s, want failed when every delivery failed", c.Status)
	}
}

func TestZeroRecipientsCompletesAsSent(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCampaignRepo()
	tr := &scriptTransport{}
	eng := newEngine(t, repo, tr)

	id := seedCampaign(t, repo)

	if err := eng.Run(ctx, id); err != nil {
		t.Fatalf("run: %v", err)
	}

	c, _ := repo.Get(ctx, id)
	if c.Status != domain.CampaignSent {
		t.Errorf("status = %s, want sent for empty ledger", c.Status)
	}
	if len(tr.attempted()) != 0 {
		t.Errorf("attempted %v deliveries on empty ledger", tr.attempted())
	}
}

func TestResumeRetriesOnlyPending(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCampaignRepo()
	tr := &scriptTransport{}
	eng := newEngine(t, repo, tr)

	id := seedCampaign(t, repo,
		"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com")

	// A previous run got through the first two recipients before dying.
	if err := repo.UpdateStatus(ctx, id, domain.CampaignSending, domain.CampaignDraft); err != nil {
		t.Fatalf("prep status: %v", err)
	}
	recs, _ := repo.ListRecipients(ctx, id, "")
	for _, rec := range recs[:2] {
		if ok, err := repo.MarkSent(ctx, id, rec.ID, time.Now().UTC()); !ok || err != nil {
			t.Fatalf("prep mark sent: ok=%v err=%v", ok, err)
		}
	}

	if err := eng.Run(ctx, id); err != nil {
		t.Fatalf("resume run: %v", err)
	}

	want := []string{"c@example.com", "d@example.com", "e@example.com"}
	got := tr.attempted()
	if len(got) != len(want) {
		t.Fatalf("resume attempted %v, want only the pending %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("resume order %v, want %v", got, want)
		}
	}

	c, _ := repo.Get(ctx, id)
	if c.Status != domain.CampaignSent {
		t.Errorf("status = %s, want sent after resume", c.Status)
	}
	if c.SentCount != 5 {
		t.Errorf("sent count = %d, want 5", c.SentCount)
	}
}

func TestDispatchRefusesConcurrentRun(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCampaignRepo()
	tr := &gateTransport{gate: make(chan struct{})}
	eng := newEngine(t, repo, tr)

	id := seedCampaign(t, repo, "a@example.com", "b@example.com")

	if err := eng.Dispatch(ctx, id); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	// The first run holds the campaign lock while parked in the transport.
	err := eng.Dispatch(ctx, id)
	if !errors.Is(err, campaign.ErrDispatchInProgress) {
		t.Fatalf("second dispatch err = %v, want ErrDispatchInProgress", err)
	}

	close(tr.gate)
	waitFor(t, func() bool {
		c, err := repo.Get(ctx, id)
		return err == nil && c.Status == domain.CampaignSent
	}, "campaign never finished after gate opened")
}

func TestDispatchRejectsCompletedCampaign(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCampaignRepo()
	eng := newEngine(t, repo, &scriptTransport{})

	for _, final := range []domain.CampaignStatus{domain.CampaignSent, domain.CampaignFailed} {
		id := seedCampaign(t, repo, "a@example.com")
		if err := repo.UpdateStatus(ctx, id, domain.CampaignSending, domain.CampaignDraft); err != nil {
			t.Fatalf("prep: %v", err)
		}
		if err := repo.UpdateStatus(ctx, id, final, domain.CampaignSending); err != nil {
			t.Fatalf("prep: %v", err)
		}

		if err := eng.Dispatch(ctx, id); !errors.Is(err, campaign.ErrNotSendable) {
			t.Errorf("dispatch of %s campaign err = %v, want ErrNotSendable", final, err)
		}
	}
}

func TestDispatchUnknownCampaign(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCampaignRepo()
	eng := newEngine(t, repo, &scriptTransport{})

	if err := eng.Dispatch(ctx, "no-such-campaign"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStopInterruptsRunAndResumeFinishes(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCampaignRepo()
	tr := &gateTransport{gate: make(chan struct{}, 1)}
	eng := newEngine(t, repo, tr)

	id := seedCampaign(t, repo, "a@example.com", "b@example.com", "c@example.com")

	// One token: the first delivery completes, the second parks in the gate.
	tr.gate <- struct{}{}
	if err := eng.Dispatch(ctx, id); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	waitFor(t, func() bool { return len(tr.attempted()) == 1 }, "first delivery never happened")

	eng.Stop()

	c, _ := repo.Get(ctx, id)
	if c.Status != domain.CampaignSending {
		t.Fatalf("status after interrupt = %s, want sending", c.Status)
	}
	states := map[string]domain.RecipientState{}
	recs, _ := repo.ListRecipients(ctx, id, "")
	for _, rec := range recs {
		states[rec.Email] = rec.State
	}
	if states["a@example.com"] != domain.RecipientSent {
		t.Errorf("first recipient state = %s, want sent", states["a@example.com"])
	}
	if states["b@example.com"] != domain.RecipientPending || states["c@example.com"] != domain.RecipientPending {
		t.Errorf("interrupted recipients should stay pending, got %v", states)
	}

	// A fresh process picks the campaign back up.
	close(tr.gate)
	eng2 := newEngine(t, repo, tr)
	if err := eng2.Run(ctx, id); err != nil {
		t.Fatalf("resume run: %v", err)
	}

	got := tr.attempted()
	if len(got) != 3 || got[1] != "b@example.com" || got[2] != "c@example.com" {
		t.Fatalf("attempts across runs = %v, want the first delivery once and the rest resumed", got)
	}
	c, _ = repo.Get(ctx, id)
	if c.Status != domain.CampaignSent {
		t.Errorf("status after resume = %s, want sent", c.Status)
	}
}

func TestResumeInterruptedScansSendingCampaigns(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCampaignRepo()
	tr := &scriptTransport{}
	eng := newEngine(t, repo, tr)

	interrupted := seedCampaign(t, repo, "a@example.com")
	if err := repo.UpdateStatus(ctx, interrupted, domain.CampaignSending, domain.CampaignDraft); err != nil {
		t.Fatalf("prep: %v", err)
	}
	seedCampaign(t, repo, "untouched@example.com")

	if err := eng.ResumeInterrupted(ctx); err != nil {
		t.Fatalf("resume interrupted: %v", err)
	}

	waitFor(t, func() bool {
		c, err := repo.Get(ctx, interrupted)
		return err == nil && c.Status == domain.CampaignSent
	}, "interrupted campaign never resumed")

	// Drafts are left alone.
	got := tr.attempted()
	if len(got) != 1 || got[0] != "a@example.com" {
		t.Errorf("attempts = %v, want only the interrupted campaign's recipient", got)
	}
}

func TestTrackingInjectedIntoDeliveredBody(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCampaignRepo()
	tr := &scriptTransport{}
	eng := newEngine(t, repo, tr)

	id := seedCampaign(t, repo, "a@example.com")
	recs, _ := repo.ListRecipients(ctx, id, "")
	recipientID := recs[0].ID

	if err := eng.Run(ctx, id); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(tr.bodies) != 1 {
		t.Fatalf("captured %d bodies, want 1", len(tr.bodies))
	}
	body := tr.bodies[0]
	if !strings.Contains(body, "/track/open/"+id+"/"+recipientID+"/pixel.gif") {
		t.Errorf("open pixel missing from delivered body:\n%s", body)
	}
	if !strings.Contains(body, "/track/click/"+id+"/"+recipientID+"?url=") {
		t.Errorf("click tracking missing from delivered body:\n%s", body)
	}
}
