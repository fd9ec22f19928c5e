package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/fwb-labs/langlab_service/internal/errors"
)

type fakeDirectory struct {
	accounts map[string]string
	calls    int
	err      error
}

func (f *fakeDirectory) Lookup(ctx context.Context, key string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	name, ok := f.accounts[key]
	if !ok {
		return "", apperrors.New(apperrors.ErrNotFound, "activation key not found")
	}
	return name, nil
}

func TestAuthorizeKnownKey(t *testing.T) {
	dir := &fakeDirectory{accounts: map[string]string{"ABC-123": "Lycée Brequigny"}}
	svc := NewLicenseService(dir, nil, time.Minute, zerolog.Nop())

	name, err := svc.Authorize(context.Background(), "ABC-123")
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if name != "Lycée Brequigny" {
		t.Errorf("Expected account name, got %q", name)
	}
}

func TestAuthorizeUnknownKey(t *testing.T) {
	dir := &fakeDirectory{accounts: map[string]string{}}
	svc := NewLicenseService(dir, nil, time.Minute, zerolog.Nop())

	_, err := svc.Authorize(context.Background(), "NOPE")
	if err == nil {
		t.Fatal("Expected error for unknown key")
	}
	if code := appErrCode(t, err); code != apperrors.ErrNotFound {
		t.Errorf("Expected NOT_FOUND, got %s", code)
	}
}

func TestAuthorizeEmptyKey(t *testing.T) {
	dir := &fakeDirectory{}
	svc := NewLicenseService(dir, nil, time.Minute, zerolog.Nop())

	_, err := svc.Authorize(context.Background(), "")
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if dir.calls != 0 {
		t.Error("Directory must not be consulted for empty keys")
	}
}

func TestAuthorizeWithoutDirectory(t *testing.T) {
	svc := NewLicenseService(nil, nil, time.Minute, zerolog.Nop())

	_, err := svc.Authorize(context.Background(), "ABC-123")
	if err == nil {
		t.Fatal("Expected error without a directory")
	}
	if code := appErrCode(t, err); code != apperrors.ErrAuthorization {
		t.Errorf("Expected AUTHORIZATION_FAILED, got %s", code)
	}
}
