package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RecipientState
		want     bool
	}{
		{RecipientPending, RecipientSent, true},
		{RecipientPending, RecipientFailed, true},
		{RecipientSent, RecipientOpened, true},
		{RecipientSent, RecipientClicked, true}, // click without recorded open
		{RecipientOpened, RecipientClicked, true},

		// open/click callbacks for recipients never dispatched
		{RecipientPending, RecipientOpened, false},
		{RecipientPending, RecipientClicked, false},

		// backward movement
		{RecipientClicked, RecipientSent, false},
		{RecipientClicked, RecipientOpened, false},
		{RecipientOpened, RecipientSent, false},
		{RecipientSent, RecipientPending, false},

		// terminal branch
		{RecipientFailed, RecipientSent, false},
		{RecipientFailed, RecipientOpened, false},
		{RecipientSent, RecipientFailed, false},

		// self-transitions are replays, not moves
		{RecipientSent, RecipientSent, false},
		{RecipientOpened, RecipientOpened, false},
		{RecipientClicked, RecipientClicked, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			got := CanTransition(tt.from, tt.to)
			if got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"test@example.com", true},
		{"user@domain.co.uk", true},
		{"  padded@example.com  ", true},
		{"bad", false},
		{"@domain.com", false},
		{"user@", false},
		{"two@at@signs.com", false},
		{"user@nodot", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			got := ValidateEmail(tt.email)
			if got != tt.valid {
				t.Errorf("ValidateEmail(%q) = %v, want %v", tt.email, got, tt.valid)
			}
		})
	}
}

func TestCampaignStatsRates(t *testing.T) {
	s := CampaignStats{SentCount: 4, OpenCount: 2, ClickCount: 1}
	if got := s.OpenRate(); got != 0.5 {
		t.Errorf("OpenRate() = %v, want 0.5", got)
	}
	if got := s.ClickRate(); got != 0.25 {
		t.Errorf("ClickRate() = %v, want 0.25", got)
	}

	var zero CampaignStats
	if got := zero.OpenRate(); got != 0 {
		t.Errorf("OpenRate() on empty stats = %v, want 0", got)
	}
}
