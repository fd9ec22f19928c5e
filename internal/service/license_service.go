package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	"github.com/fwb-labs/langlab_service/internal/client"
	"github.com/fwb-labs/langlab_service/internal/errors"
)

const licenseCacheKeyPrefix = "license:key:"

// LicenseDirectory resolves an activation key to an account name. Backed by
// the published license spreadsheet.
type LicenseDirectory interface {
	Lookup(ctx context.Context, activationKey string) (string, error)
}

// LicenseService answers "which school owns this activation key", with a
// best-effort Redis cache in front of the sheet download. Cache and
// directory failures are recoverable; they never touch running sessions.
type LicenseService struct {
	directory   LicenseDirectory
	redisClient *client.RedisClient
	cacheTTL    time.Duration
	log         zerolog.Logger
}

// NewLicenseService creates a new license service. redisClient may be nil;
// lookups then always hit the directory.
func NewLicenseService(directory LicenseDirectory, redisClient *client.RedisClient, cacheTTL time.Duration, log zerolog.Logger) *LicenseService {
	return &LicenseService{
		directory:   directory,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
		log:         log,
	}
}

// Authorize returns the account name registered for the activation key.
func (s *LicenseService) Authorize(ctx context.Context, activationKey string) (string, error) {
	if activationKey == "" {
		return "", errors.Validation("activation key is required")
	}
	if s.directory == nil {
		return "", errors.New(errors.ErrAuthorization, "license directory not configured")
	}

	cacheKey := licenseCacheKeyPrefix + hashKey(activationKey)

	if s.redisClient != nil {
		if name, ok, err := s.redisClient.GetString(ctx, cacheKey); err != nil {
			s.log.Warn().Err(err).Msg("License cache read failed")
		} else if ok {
			return name, nil
		}
	}

	name, err := s.directory.Lookup(ctx, activationKey)
	if err != nil {
		return "", err
	}

	if s.redisClient != nil {
		if err := s.redisClient.SetString(ctx, cacheKey, name, s.cacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("License cache write failed")
		}
	}

	return name, nil
}

// hashKey avoids storing raw activation keys in the cache.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
