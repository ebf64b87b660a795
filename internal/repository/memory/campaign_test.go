package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/domain"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/repository/memory"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/service/campaign"
)

func newDraft(t *testing.T, repo *memory.CampaignRepo) string {
	t.Helper()
	id, err := repo.Create(context.Background(), &domain.Campaign{
		Name:    "August promo",
		Subject: "Hello",
		Body:    "<html><body>hi</body></html>",
		Status:  domain.CampaignDraft,
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return id
}

func addRecipient(t *testing.T, repo *memory.CampaignRepo, campaignID, email string) string {
	t.Helper()
	rec := &domain.Recipient{CampaignID: campaignID, Email: email, State: domain.RecipientPending}
	id, err := repo.AddRecipient(context.Background(), rec)
	if err != nil {
		t.Fatalf("add recipient %s: %v", email, err)
	}
	return id
}

func TestLedgerOrderAndPositions(t *testing.T) {
	repo := memory.NewCampaignRepo()
	ctx := context.Background()
	cid := newDraft(t, repo)

	emails := []string{"a@example.com", "b@example.com", "c@example.com"}
	for _, e := range emails {
		addRecipient(t, repo, cid, e)
	}

	recs, err := repo.ListRecipients(ctx, cid, "")
	if err != nil {
		t.Fatalf("list recipients: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d recipients, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.Email != emails[i] {
			t.Errorf("recipient %d = %s, want %s", i, rec.Email, emails[i])
		}
		if rec.Position != i+1 {
			t.Errorf("recipient %d position = %d, want %d", i, rec.Position, i+1)
		}
	}

	c, err := repo.Get(ctx, cid)
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if c.TotalRecipients != 3 {
		t.Errorf("TotalRecipients = %d, want 3", c.TotalRecipients)
	}
}

func TestMarksAreGuarded(t *testing.T) {
	repo := memory.NewCampaignRepo()
	ctx := context.Background()
	cid := newDraft(t, repo)
	rid := addRecipient(t, repo, cid, "a@example.com")

	// Opens and clicks before delivery must not move the recipient.
	if moved, _ := repo.MarkOpened(ctx, cid, rid, time.Now()); moved {
		t.Error("MarkOpened moved a pending recipient")
	}
	if moved, _ := repo.MarkClicked(ctx, cid, rid, time.Now()); moved {
		t.Error("MarkClicked moved a pending recipient")
	}

	if moved, err := repo.MarkSent(ctx, cid, rid, time.Now()); err != nil || !moved {
		t.Fatalf("MarkSent = (%v, %v), want (true, nil)", moved, err)
	}
	if moved, _ := repo.MarkSent(ctx, cid, rid, time.Now()); moved {
		t.Error("second MarkSent moved an already sent recipient")
	}

	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if moved, err := repo.MarkOpened(ctx, cid, rid, first); err != nil || !moved {
		t.Fatalf("MarkOpened = (%v, %v), want (true, nil)", moved, err)
	}
	// A later open is a no-op and must not overwrite the first timestamp.
	if moved, _ := repo.MarkOpened(ctx, cid, rid, first.Add(time.Hour)); moved {
		t.Error("second MarkOpened moved an already opened recipient")
	}
	rec, err := repo.GetRecipient(ctx, cid, rid)
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	if rec.OpenedAt == nil || !rec.OpenedAt.Equal(first) {
		t.Errorf("OpenedAt = %v, want %v", rec.OpenedAt, first)
	}

	if moved, err := repo.MarkClicked(ctx, cid, rid, time.Now()); err != nil || !moved {
		t.Fatalf("MarkClicked = (%v, %v), want (true, nil)", moved, err)
	}

	c, _ := repo.Get(ctx, cid)
	if c.SentCount != 1 || c.OpenCount != 1 || c.ClickCount != 1 {
		t.Errorf("cached counters = %d/%d/%d, want 1/1/1", c.SentCount, c.OpenCount, c.ClickCount)
	}
}

func TestClickWithoutObservedOpen(t *testing.T) {
	repo := memory.NewCampaignRepo()
	ctx := context.Background()
	cid := newDraft(t, repo)
	rid := addRecipient(t, repo, cid, "a@example.com")

	repo.MarkSent(ctx, cid, rid, time.Now())
	if moved, err := repo.MarkClicked(ctx, cid, rid, time.Now()); err != nil || !moved {
		t.Fatalf("MarkClicked from sent = (%v, %v), want (true, nil)", moved, err)
	}

	rec, _ := repo.GetRecipient(ctx, cid, rid)
	if rec.State != domain.RecipientClicked {
		t.Errorf("state = %s, want clicked", rec.State)
	}
	if rec.OpenedAt != nil {
		t.Errorf("OpenedAt = %v, want nil when the open was never observed", rec.OpenedAt)
	}

	// A click implies the mail was seen, so it still counts as an open.
	st, err := repo.RecomputeStats(ctx, cid)
	if err != nil {
		t.Fatalf("recompute stats: %v", err)
	}
	if st.OpenCount != 1 || st.ClickCount != 1 {
		t.Errorf("open/click counts = %d/%d, want 1/1", st.OpenCount, st.ClickCount)
	}
}

func TestAddRecipientRequiresDraft(t *testing.T) {
	repo := memory.NewCampaignRepo()
	ctx := context.Background()
	cid := newDraft(t, repo)

	if err := repo.UpdateStatus(ctx, cid, domain.CampaignSending); err != nil {
		t.Fatalf("update status: %v", err)
	}
	rec := &domain.Recipient{CampaignID: cid, Email: "late@example.com"}
	if _, err := repo.AddRecipient(ctx, rec); !errors.Is(err, campaign.ErrCampaignNotDraft) {
		t.Errorf("AddRecipient on sending campaign = %v, want ErrCampaignNotDraft", err)
	}
}

func TestUpdateStatusGuard(t *testing.T) {
	repo := memory.NewCampaignRepo()
	ctx := context.Background()
	cid := newDraft(t, repo)

	err := repo.UpdateStatus(ctx, cid, domain.CampaignSent, domain.CampaignSending)
	if !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Errorf("draft→sent with sending guard = %v, want ErrInvalidTransition", err)
	}

	if err := repo.UpdateStatus(ctx, cid, domain.CampaignSending, domain.CampaignDraft, domain.CampaignSending); err != nil {
		t.Fatalf("draft→sending: %v", err)
	}
	c, _ := repo.Get(ctx, cid)
	if c.StartedAt == nil {
		t.Error("StartedAt not stamped on move to sending")
	}

	if err := repo.UpdateStatus(ctx, cid, domain.CampaignSent, domain.CampaignSending); err != nil {
		t.Fatalf("sending→sent: %v", err)
	}
	c, _ = repo.Get(ctx, cid)
	if c.CompletedAt == nil {
		t.Error("CompletedAt not stamped on completion")
	}

	if err := repo.UpdateStatus(ctx, "nope", domain.CampaignSending); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("unknown campaign = %v, want ErrNotFound", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	repo := memory.NewCampaignRepo()
	ctx := context.Background()
	cid := newDraft(t, repo)
	addRecipient(t, repo, cid, "a@example.com")

	if err := repo.Delete(ctx, cid); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	if _, err := repo.Get(ctx, cid); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
	if _, err := repo.ListRecipients(ctx, cid, ""); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("ledger after delete = %v, want ErrNotFound", err)
	}

	cid2 := newDraft(t, repo)
	repo.UpdateStatus(ctx, cid2, domain.CampaignSending)
	if err := repo.Delete(ctx, cid2); !errors.Is(err, campaign.ErrCampaignNotDraft) {
		t.Errorf("delete sending campaign = %v, want ErrCampaignNotDraft", err)
	}
}

func TestRecomputeStats(t *testing.T) {
	repo := memory.NewCampaignRepo()
	ctx := context.Background()
	cid := newDraft(t, repo)

	ids := make([]string, 5)
	for i, e := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"} {
		ids[i] = addRecipient(t, repo, cid, e)
	}

	now := time.Now()
	repo.MarkSent(ctx, cid, ids[0], now)
	repo.MarkSent(ctx, cid, ids[1], now)
	repo.MarkOpened(ctx, cid, ids[1], now)
	repo.MarkSent(ctx, cid, ids[2], now)
	repo.MarkOpened(ctx, cid, ids[2], now)
	repo.MarkClicked(ctx, cid, ids[2], now)
	repo.MarkFailed(ctx, cid, ids[3], "smtp 550")
	// ids[4] stays pending

	st, err := repo.RecomputeStats(ctx, cid)
	if err != nil {
		t.Fatalf("recompute stats: %v", err)
	}
	want := domain.CampaignStats{
		TotalRecipients: 5,
		PendingCount:    1,
		SentCount:       3,
		OpenCount:       2,
		ClickCount:      1,
		FailedCount:     1,
	}
	if *st != want {
		t.Errorf("stats = %+v, want %+v", *st, want)
	}

	if _, err := repo.RecomputeStats(ctx, "missing"); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("stats for unknown campaign = %v, want ErrNotFound", err)
	}
}
