// Package postgres implements campaign.Repository against PostgreSQL.
//
// Recipient transitions and the counter recompute they trigger run in one
// transaction, so the cached counters on campaigns never drift from the
// campaign_recipients ledger.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/domain"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, subject, body, status,
		       total_recipients, sent_count, open_count, click_count,
		       started_at, completed_at, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Name, &c.Subject, &c.Body, &c.Status,
		&c.TotalRecipients, &c.SentCount, &c.OpenCount, &c.ClickCount,
		&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM campaigns`
	var args []interface{}
	if f.Status != "" {
		countQ += ` WHERE status = $1`
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `
		SELECT id, name, subject, status,
		       total_recipients, sent_count, open_count, click_count,
		       started_at, completed_at, created_at, updated_at
		FROM campaigns`

	var qArgs []interface{}
	qIdx := 1
	if f.Status != "" {
		q += fmt.Sprintf(" WHERE status = $%d", qIdx)
		qArgs = append(qArgs, f.Status)
		qIdx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", qIdx, qIdx+1)
	qArgs = append(qArgs, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, qArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Subject, &c.Status,
			&c.TotalRecipients, &c.SentCount, &c.OpenCount, &c.ClickCount,
			&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, subject, body, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`, c.ID, c.Name, c.Subject, c.Body, c.Status)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Subject != nil {
		add("subject", *u.Subject)
	}
	if u.Body != nil {
		add("body", *u.Body)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	q := fmt.Sprintf("UPDATE campaigns SET %s WHERE id = $%d AND status = 'draft'",
		strings.Join(sets, ", "), idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return r.draftGuardError(ctx, id)
	}
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	// The ledger goes with it via ON DELETE CASCADE.
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM campaigns WHERE id = $1 AND status = 'draft'
	`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return r.draftGuardError(ctx, id)
	}
	return nil
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus, allowedFrom ...domain.CampaignStatus) error {
	set := `status = $1, updated_at = NOW()`
	switch status {
	case domain.CampaignSending:
		set += `, started_at = COALESCE(started_at, NOW())`
	case domain.CampaignSent, domain.CampaignFailed:
		set += `, completed_at = COALESCE(completed_at, NOW())`
	}

	q := fmt.Sprintf(`UPDATE campaigns SET %s WHERE id = $2`, set)
	args := []interface{}{status, id}
	if len(allowedFrom) > 0 {
		q += ` AND status = ANY($3)`
		from := make([]string, len(allowedFrom))
		for i, s := range allowedFrom {
			from[i] = string(s)
		}
		args = append(args, pq.Array(from))
	}

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var cur string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&cur)
		if err == sql.ErrNoRows {
			return campaign.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return fmt.Errorf("%w: %s -> %s", campaign.ErrInvalidTransition, cur, status)
	}
	return nil
}

func (r *CampaignRepo) AddRecipient(ctx context.Context, rec *domain.Recipient) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.State == "" {
		rec.State = domain.RecipientPending
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Lock the campaign row so concurrent appends get distinct positions.
	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM campaigns WHERE id = $1 FOR UPDATE
	`, rec.CampaignID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", campaign.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock campaign: %w", err)
	}
	if status != string(domain.CampaignDraft) {
		return "", campaign.ErrCampaignNotDraft
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO campaign_recipients (id, campaign_id, email, name, state, position, created_at)
		VALUES ($1, $2, $3, $4, $5,
		        (SELECT COALESCE(MAX(position), 0) + 1 FROM campaign_recipients WHERE campaign_id = $2),
		        NOW())
		RETURNING position
	`, rec.ID, rec.CampaignID, rec.Email, rec.Name, rec.State).Scan(&rec.Position)
	if err != nil {
		return "", fmt.Errorf("insert recipient: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE campaigns
		SET total_recipients = (SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1),
		    updated_at = NOW()
		WHERE id = $1
	`, rec.CampaignID)
	if err != nil {
		return "", fmt.Errorf("update recipient count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return rec.ID, nil
}

func (r *CampaignRepo) GetRecipient(ctx context.Context, campaignID, recipientID string) (*domain.Recipient, error) {
	rec := &domain.Recipient{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, email, name, state, COALESCE(fail_reason,''), position,
		       sent_at, opened_at, clicked_at, created_at
		FROM campaign_recipients
		WHERE campaign_id = $1 AND id = $2
	`, campaignID, recipientID).Scan(
		&rec.ID, &rec.CampaignID, &rec.Email, &rec.Name, &rec.State, &rec.FailReason, &rec.Position,
		&rec.SentAt, &rec.OpenedAt, &rec.ClickedAt, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, r.recipientMissError(ctx, campaignID)
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return rec, nil
}

func (r *CampaignRepo) ListRecipients(ctx context.Context, campaignID string, state domain.RecipientState) ([]domain.Recipient, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`, campaignID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return nil, campaign.ErrNotFound
	}

	q := `
		SELECT id, campaign_id, email, name, state, COALESCE(fail_reason,''), position,
		       sent_at, opened_at, clicked_at, created_at
		FROM campaign_recipients
		WHERE campaign_id = $1`
	args := []interface{}{campaignID}
	if state != "" {
		q += ` AND state = $2`
		args = append(args, state)
	}
	q += ` ORDER BY position ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		if err := rows.Scan(
			&rec.ID, &rec.CampaignID, &rec.Email, &rec.Name, &rec.State, &rec.FailReason, &rec.Position,
			&rec.SentAt, &rec.OpenedAt, &rec.ClickedAt, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) MarkSent(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error) {
	return r.transition(ctx, campaignID, recipientID, `
		UPDATE campaign_recipients
		SET state = 'sent', sent_at = $3
		WHERE campaign_id = $1 AND id = $2 AND state = 'pending'
	`, at)
}

func (r *CampaignRepo) MarkFailed(ctx context.Context, campaignID, recipientID, reason string) (bool, error) {
	return r.transition(ctx, campaignID, recipientID, `
		UPDATE campaign_recipients
		SET state = 'failed', fail_reason = $3
		WHERE campaign_id = $1 AND id = $2 AND state = 'pending'
	`, reason)
}

func (r *CampaignRepo) MarkOpened(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error) {
	return r.transition(ctx, campaignID, recipientID, `
		UPDATE campaign_recipients
		SET state = 'opened', opened_at = $3
		WHERE campaign_id = $1 AND id = $2 AND state = 'sent'
	`, at)
}

func (r *CampaignRepo) MarkClicked(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error) {
	return r.transition(ctx, campaignID, recipientID, `
		UPDATE campaign_recipients
		SET state = 'clicked', clicked_at = $3
		WHERE campaign_id = $1 AND id = $2 AND state IN ('sent', 'opened')
	`, at)
}

func (r *CampaignRepo) RecomputeStats(ctx context.Context, campaignID string) (*domain.CampaignStats, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`, campaignID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return nil, campaign.ErrNotFound
	}

	st := &domain.CampaignStats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE state = 'pending'),
		       COUNT(*) FILTER (WHERE state IN ('sent', 'opened', 'clicked')),
		       COUNT(*) FILTER (WHERE state IN ('opened', 'clicked')),
		       COUNT(*) FILTER (WHERE state = 'clicked'),
		       COUNT(*) FILTER (WHERE state = 'failed')
		FROM campaign_recipients
		WHERE campaign_id = $1
	`, campaignID).Scan(
		&st.TotalRecipients, &st.PendingCount, &st.SentCount,
		&st.OpenCount, &st.ClickCount, &st.FailedCount,
	)
	if err != nil {
		return nil, fmt.Errorf("recompute stats: %w", err)
	}
	return st, nil
}

// transition runs a guarded recipient update, refreshes the campaign's
// cached counters in the same transaction, and reports whether the update
// moved a row. Zero rows with an existing recipient is a legal no-op.
func (r *CampaignRepo) transition(ctx context.Context, campaignID, recipientID, query string, arg interface{}) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, campaignID, recipientID, arg)
	if err != nil {
		return false, fmt.Errorf("transition recipient: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM campaign_recipients WHERE campaign_id = $1 AND id = $2)
		`, campaignID, recipientID).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("check recipient: %w", err)
		}
		if exists {
			return false, nil
		}
		return false, r.recipientMissError(ctx, campaignID)
	}

	if err := recountTx(ctx, tx, campaignID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// recountTx refreshes the cached counters on the campaign row from the
// ledger inside the caller's transaction.
func recountTx(ctx context.Context, tx *sql.Tx, campaignID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE campaigns c
		SET total_recipients = s.total,
		    sent_count  = s.sent,
		    open_count  = s.opened,
		    click_count = s.clicked,
		    updated_at  = NOW()
		FROM (
			SELECT COUNT(*) AS total,
			       COUNT(*) FILTER (WHERE state IN ('sent', 'opened', 'clicked')) AS sent,
			       COUNT(*) FILTER (WHERE state IN ('opened', 'clicked')) AS opened,
			       COUNT(*) FILTER (WHERE state = 'clicked') AS clicked
			FROM campaign_recipients
			WHERE campaign_id = $1
		) s
		WHERE c.id = $1
	`, campaignID)
	if err != nil {
		return fmt.Errorf("recount campaign: %w", err)
	}
	return nil
}

// draftGuardError resolves why a draft-only statement matched nothing.
func (r *CampaignRepo) draftGuardError(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if exists {
		return campaign.ErrCampaignNotDraft
	}
	return campaign.ErrNotFound
}

// recipientMissError distinguishes a missing campaign from a missing
// recipient within a known campaign.
func (r *CampaignRepo) recipientMissError(ctx context.Context, campaignID string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`, campaignID).Scan(&exists); err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return campaign.ErrNotFound
	}
	return campaign.ErrRecipientNotFound
}
