// Package auth handles login and token lifecycle.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
	"github.com/scenergy/scenesync/internal/transport"
)

// defaultTokenTTL is assumed when the server omits an expiry.
const defaultTokenTTL = 24 * time.Hour

// Service handles authentication operations.
type Service struct {
	api    transport.API
	logger *events.Logger

	// Token cache
	token     *models.TokenInfo
	tokenFile string
}

// NewService creates an auth service. tokenFile may be empty to
// disable persistence.
func NewService(api transport.API, tokenFile string, logger *events.Logger) *Service {
	if logger == nil {
		logger = events.Discard()
	}

	return &Service{
		api:       api,
		tokenFile: tokenFile,
		logger:    logger.WithField("service", "auth"),
	}
}

// Login authenticates against the API and caches the token.
func (s *Service) Login(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return fmt.Errorf("email and password required")
	}

	s.logger.WithField("email", email).Info("Logging in")

	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		return err
	}

	expiresAt := resp.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultTokenTTL)
	}

	s.token = &models.TokenInfo{
		Token:     resp.Token,
		ExpiresAt: expiresAt,
		Email:     email,
	}

	s.api.SetToken(resp.Token)

	if err := s.saveToken(); err != nil {
		s.logger.WithError(err).Warn("Failed to save token")
	}

	s.logger.WithField("user_id", resp.UserID).Info("Login successful")
	return nil
}

// Load primes the token cache from the token file, typically at
// startup. A missing file is not an error; an expired token is
// ignored.
func (s *Service) Load() error {
	if s.tokenFile == "" {
		return nil
	}

	data, err := os.ReadFile(s.tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read token file: %w", err)
	}

	var token models.TokenInfo
	if err := json.Unmarshal(data, &token); err != nil {
		return fmt.Errorf("parse token file: %w", err)
	}

	if token.IsExpired() {
		s.logger.WithField("email", token.Email).Debug("Stored token is expired")
		return nil
	}

	s.token = &token
	s.api.SetToken(token.Token)

	s.logger.WithField("email", token.Email).Debug("Token loaded")
	return nil
}

// GetToken returns the current token if valid.
func (s *Service) GetToken() (*models.TokenInfo, error) {
	if s.token != nil && !s.token.IsExpired() {
		return s.token, nil
	}

	// Another process may have logged in since startup.
	if err := s.Load(); err == nil && s.token != nil && !s.token.IsExpired() {
		return s.token, nil
	}

	return nil, models.ErrNotAuthenticated
}

// EnsureAuthenticated verifies a valid token is available.
func (s *Service) EnsureAuthenticated(ctx context.Context) error {
	_, err := s.GetToken()
	return err
}

// Logout clears the cached token and removes the token file.
func (s *Service) Logout() error {
	s.logger.Info("Logging out")

	s.token = nil
	s.api.SetToken("")

	if s.tokenFile != "" {
		if err := os.Remove(s.tokenFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove token file: %w", err)
		}
	}

	return nil
}

func (s *Service) saveToken() error {
	if s.tokenFile == "" || s.token == nil {
		return nil
	}

	data, err := json.Marshal(s.token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	return os.WriteFile(s.tokenFile, data, 0600)
}
