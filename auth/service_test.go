package auth

import (
	"errors"
	"testing"
	"time"

	"jurisflow/proceeding"
)

func TestService_IssueAndVerify(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, expires, err := svc.IssuePartyToken("case-1", proceeding.SidePlaintiff)
	if err != nil {
		t.Fatalf("issue: unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("issue: expected token, got empty string")
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("issue: expected expiry in the future, got %v", expires)
	}

	claims, err := svc.VerifyPartyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.CaseID != "case-1" || claims.Side != proceeding.SidePlaintiff {
		t.Fatalf("verify token: unexpected claims %+v", claims)
	}

	if err := svc.Authorize(token, "case-1", proceeding.SidePlaintiff); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := svc.Authorize(token, "case-1", proceeding.SideDefense); !errors.Is(err, ErrWrongParty) {
		t.Fatalf("authorize other side: expected ErrWrongParty, got %v", err)
	}
	if err := svc.Authorize(token, "case-2", proceeding.SidePlaintiff); !errors.Is(err, ErrWrongParty) {
		t.Fatalf("authorize other case: expected ErrWrongParty, got %v", err)
	}
}

func TestService_RejectsForeignAndExpiredTokens(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	other := NewService("other-secret", time.Hour)

	token, _, err := other.IssuePartyToken("case-1", proceeding.SideDefense)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.VerifyPartyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}

	past := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return past }
	stale, _, err := svc.IssuePartyToken("case-1", proceeding.SideDefense)
	if err != nil {
		t.Fatalf("issue stale: %v", err)
	}
	svc.now = time.Now
	if _, err := svc.VerifyPartyToken(stale); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	if _, err := svc.VerifyPartyToken("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestService_Disabled(t *testing.T) {
	svc := NewService("", 0)

	if svc.Enabled() {
		t.Fatal("expected tokens disabled without secret")
	}
	if _, _, err := svc.IssuePartyToken("case-1", proceeding.SidePlaintiff); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if err := svc.Authorize("", "case-1", proceeding.SidePlaintiff); err != nil {
		t.Fatalf("expected open access when disabled, got %v", err)
	}
}

func TestService_IssueValidation(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	if _, _, err := svc.IssuePartyToken("", proceeding.SidePlaintiff); err == nil {
		t.Fatal("expected error for empty case id")
	}
	if _, _, err := svc.IssuePartyToken("case-1", proceeding.Side("judge")); err == nil {
		t.Fatal("expected error for unknown side")
	}
}
