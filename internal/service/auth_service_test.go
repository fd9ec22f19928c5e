package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestAuthService(dir *fakeDirectory, ttl time.Duration) *AuthService {
	license := NewLicenseService(dir, nil, time.Minute, zerolog.Nop())
	return NewAuthService(license, "test-secret", ttl)
}

func TestActivateMintsValidToken(t *testing.T) {
	dir := &fakeDirectory{accounts: map[string]string{"ABC-123": "Lycée Brequigny"}}
	svc := newTestAuthService(dir, time.Hour)

	resp, err := svc.Activate(context.Background(), "ABC-123")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if resp.AccountName != "Lycée Brequigny" {
		t.Errorf("Unexpected account name: %q", resp.AccountName)
	}
	if resp.Token == "" {
		t.Fatal("Expected a token")
	}

	account, err := svc.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if account != "Lycée Brequigny" {
		t.Errorf("Token bound to wrong account: %q", account)
	}
}

func TestActivateRejectsUnknownKey(t *testing.T) {
	dir := &fakeDirectory{accounts: map[string]string{}}
	svc := newTestAuthService(dir, time.Hour)

	if _, err := svc.Activate(context.Background(), "NOPE"); err == nil {
		t.Fatal("Expected activation failure")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	dir := &fakeDirectory{accounts: map[string]string{"ABC-123": "Lycée Brequigny"}}
	svc := newTestAuthService(dir, -time.Minute)

	resp, err := svc.Activate(context.Background(), "ABC-123")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if _, err := svc.ValidateToken(resp.Token); err == nil {
		t.Fatal("Expected expired token to be rejected")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	dir := &fakeDirectory{accounts: map[string]string{"ABC-123": "Lycée Brequigny"}}
	minted := newTestAuthService(dir, time.Hour)
	other := NewAuthService(NewLicenseService(dir, nil, time.Minute, zerolog.Nop()), "other-secret", time.Hour)

	resp, err := minted.Activate(context.Background(), "ABC-123")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if _, err := other.ValidateToken(resp.Token); err == nil {
		t.Fatal("Expected token signed with a different secret to be rejected")
	}

	if _, err := minted.ValidateToken("not-a-token"); err == nil {
		t.Fatal("Expected malformed token to be rejected")
	}
}
