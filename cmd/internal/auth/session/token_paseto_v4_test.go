package session

import (
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T, mutate func(*Config)) TokenManager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = GenerateSecretKeyHex()
	if mutate != nil {
		mutate(&cfg)
	}
	mgr, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	return mgr
}

func TestPasetoV4_IssueAndVerify(t *testing.T) {
	mgr := newTestManager(t, nil)

	now := time.Now().UTC()
	tok, exp, err := mgr.Issue("01HZZZZZZZZZZZZZZZZZZZZZZZ", "alice", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := mgr.Verify(tok, now.Add(1*time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "01HZZZZZZZZZZZZZZZZZZZZZZZ" {
		t.Fatalf("uid=%q", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Fatalf("usr=%q want=%q", claims.Username, "alice")
	}
	if claims.Issuer != "huddle" {
		t.Fatalf("iss=%q want=%q", claims.Issuer, "huddle")
	}
}

func TestPasetoV4_IssueRejectsEmptyIdentity(t *testing.T) {
	mgr := newTestManager(t, nil)
	if _, _, err := mgr.Issue("", "alice", time.Now()); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v want=%v", err, ErrInvalidToken)
	}
	if _, _, err := mgr.Issue("u1", " ", time.Now()); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v want=%v", err, ErrInvalidToken)
	}
}

func TestPasetoV4_VerifyRejects(t *testing.T) {
	mgr := newTestManager(t, nil)
	now := time.Now().UTC()

	expired, _, err := mgr.Issue("u1", "alice", now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	future, _, err := mgr.Issue("u1", "alice", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	otherIssuer := newTestManager(t, func(c *Config) { c.Issuer = "someone-else" })
	foreign, _, err := otherIssuer.Issue("u1", "alice", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := map[string]string{
		"empty":         "",
		"garbage":       "v4.public.garbage",
		"expired":       expired,
		"not yet valid": future,
		"foreign key":   foreign,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := mgr.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Verify err=%v want=%v", err, ErrInvalidToken)
			}
		})
	}
}
