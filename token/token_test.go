package token

import (
	"testing"
	"time"
)

func TestIssue_Shape(t *testing.T) {
	a := NewAuthority(time.Hour)

	issued, err := a.Issue()
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if len(issued.Raw) != 64 {
		t.Errorf("Raw length = %d, want 64 hex chars (32 bytes)", len(issued.Raw))
	}
	if len(issued.Fingerprint) != 64 {
		t.Errorf("Fingerprint length = %d, want 64 hex chars", len(issued.Fingerprint))
	}
	if issued.Raw == issued.Fingerprint {
		t.Error("fingerprint equals raw token")
	}
	if issued.Fingerprint != Fingerprint(issued.Raw) {
		t.Error("fingerprint does not match recomputed digest")
	}

	until := time.Until(issued.ExpiresAt)
	if until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("expiry %v not ~1h out", until)
	}
}

func TestIssue_NoCollisions(t *testing.T) {
	a := NewAuthority(time.Hour)

	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		issued, err := a.Issue()
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if seen[issued.Fingerprint] {
			t.Fatalf("duplicate fingerprint after %d issues", i)
		}
		seen[issued.Fingerprint] = true
	}
}

func TestVerify(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := NewAuthorityWithClock(time.Hour, func() time.Time { return now })

	issued, err := a.Issue()
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tests := []struct {
		name        string
		raw         string
		fingerprint string
		expiresAt   time.Time
		want        bool
	}{
		{"valid", issued.Raw, issued.Fingerprint, issued.ExpiresAt, true},
		{"tampered raw", issued.Raw[:63] + "x", issued.Fingerprint, issued.ExpiresAt, false},
		{"wrong fingerprint", issued.Raw, Fingerprint("other"), issued.ExpiresAt, false},
		{"empty raw", "", issued.Fingerprint, issued.ExpiresAt, false},
		{"empty fingerprint", issued.Raw, "", issued.ExpiresAt, false},
		{"expired", issued.Raw, issued.Fingerprint, now.Add(-time.Second), false},
		{"expires exactly now", issued.Raw, issued.Fingerprint, now, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Verify(tt.raw, tt.fingerprint, tt.expiresAt); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	if Fingerprint("abc") != Fingerprint("abc") {
		t.Error("fingerprint not deterministic")
	}
	if Fingerprint("abc") == Fingerprint("abd") {
		t.Error("different inputs produced the same fingerprint")
	}
}
