// Package auth issues and validates the API tokens guarding the REST
// surface.
//
// Credentials live in the user table of the graph store: passwords as
// bcrypt hashes, the current token as a uuid hex string next to its issue
// timestamp. Every successful login replaces the token; a token stays
// valid until the configured expiration has passed since it was issued.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dorch-network/dorch/pkg/dorch/store"
	"github.com/dorch-network/dorch/pkg/util"
)

// Credentials carries one login request.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Tenant   string `json:"tenant"`
}

// Service authenticates users against the graph store.
type Service struct {
	store  *store.Store
	expiry time.Duration
}

// New returns a Service issuing tokens that expire after tokenExpiration.
// A zero or negative expiration means tokens never expire.
func New(st *store.Store, tokenExpiration time.Duration) *Service {
	return &Service{store: st, expiry: tokenExpiration}
}

// Login verifies the credentials and returns a fresh token. Unknown
// users, wrong passwords and tenant mismatches all come back as
// ErrUnauthorized.
func (s *Service) Login(ctx context.Context, creds Credentials) (string, error) {
	if creds.Username == "" || creds.Password == "" {
		return "", fmt.Errorf("%w: missing credentials", util.ErrUnauthorized)
	}

	user, err := s.store.UserByName(ctx, creds.Username)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("%w: invalid credentials", util.ErrUnauthorized)
	}
	if creds.Tenant != "" && creds.Tenant != user.Tenant {
		return "", fmt.Errorf("%w: invalid credentials", util.ErrUnauthorized)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		return "", fmt.Errorf("%w: invalid credentials", util.ErrUnauthorized)
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.store.UpdateUserToken(ctx, user.ID, token, time.Now().UTC()); err != nil {
		return "", err
	}
	util.Logger.WithField("user", user.Username).Info("issued new token")
	return token, nil
}

// Authenticate resolves a token to its user. Unknown and expired tokens
// come back as ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: no token", util.ErrUnauthorized)
	}
	user, err := s.store.UserByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: unknown token", util.ErrUnauthorized)
	}
	if s.expired(user) {
		return nil, fmt.Errorf("%w: token expired", util.ErrUnauthorized)
	}
	return user, nil
}

func (s *Service) expired(user *store.User) bool {
	if s.expiry <= 0 {
		return false
	}
	if !user.TokenTimestamp.Valid {
		return true
	}
	return time.Since(user.TokenTimestamp.Time) > s.expiry
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
