package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fwb-labs/langlab_service/internal/errors"
)

// AuthService turns a successful license activation into a classroom token
// for the teacher dashboard.
type AuthService struct {
	licenseService *LicenseService
	jwtSecret      []byte
	tokenTTL       time.Duration
}

// NewAuthService creates a new AuthService.
func NewAuthService(licenseService *LicenseService, jwtSecret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		licenseService: licenseService,
		jwtSecret:      []byte(jwtSecret),
		tokenTTL:       tokenTTL,
	}
}

// ActivateResponse is returned on successful activation.
type ActivateResponse struct {
	AccountName string `json:"account_name"`
	Token       string `json:"token"`
}

// Activate verifies the activation key against the license directory and
// mints a teacher token bound to the account name.
func (s *AuthService) Activate(ctx context.Context, activationKey string) (*ActivateResponse, error) {
	accountName, err := s.licenseService.Authorize(ctx, activationKey)
	if err != nil {
		return nil, err
	}

	token, err := s.generateToken(accountName)
	if err != nil {
		return nil, errors.InternalWrap("failed to generate token", err)
	}

	return &ActivateResponse{AccountName: accountName, Token: token}, nil
}

// ValidateToken parses and validates a token string, returning the account
// name it was minted for.
func (s *AuthService) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}

	account, ok := claims["sub"].(string)
	if !ok {
		return "", fmt.Errorf("invalid subject claim")
	}

	return account, nil
}

func (s *AuthService) generateToken(accountName string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": accountName,
		"iat": now.Unix(),
		"exp": now.Add(s.tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
