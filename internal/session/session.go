// Package session turns backend tokens into domain.Credentials.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tsntt/footballdash/internal/domain"
)

// Authenticator exchanges a name and password for a backend token.
type Authenticator interface {
	Login(ctx context.Context, name, password string) (string, error)
}

type Config struct {
	Token    string
	Username string
	Password string
}

// ParseToken reads the user claims of a backend JWT. The signature is not
// checked here; the backend verifies it on every request.
func ParseToken(token string) (domain.Credentials, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: parse token: %v", domain.ErrNotAuthenticated, err)
	}

	userID, ok := claims["user_id"].(float64)
	if !ok {
		return domain.Credentials{}, fmt.Errorf("%w: invalid user_id in token", domain.ErrNotAuthenticated)
	}
	name, _ := claims["name"].(string)
	role, ok := claims["role"].(string)
	if !ok {
		return domain.Credentials{}, fmt.Errorf("%w: invalid role in token", domain.ErrNotAuthenticated)
	}

	creds := domain.Credentials{
		Token:  token,
		UserID: int(userID),
		Name:   name,
		Role:   role,
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: invalid exp in token: %v", domain.ErrNotAuthenticated, err)
	}
	if exp != nil {
		creds.ExpiresAt = exp.Time
	}
	return creds, nil
}

// Authenticate uses the preset token when there is one and logs in
// otherwise. It fails unless the resulting user is an admin whose token is
// still valid at now.
func Authenticate(ctx context.Context, cfg Config, api Authenticator, now time.Time) (domain.Credentials, error) {
	token := cfg.Token
	if token == "" {
		if cfg.Username == "" || cfg.Password == "" {
			return domain.Credentials{}, fmt.Errorf("%w: no token or login configured", domain.ErrNotAuthenticated)
		}
		var err error
		token, err = api.Login(ctx, cfg.Username, cfg.Password)
		if err != nil {
			return domain.Credentials{}, errors.Join(domain.ErrNotAuthenticated, fmt.Errorf("login as %q: %w", cfg.Username, err))
		}
	}

	creds, err := ParseToken(token)
	if err != nil {
		return domain.Credentials{}, err
	}
	if creds.Expired(now) {
		return domain.Credentials{}, fmt.Errorf("%w: token expired at %s", domain.ErrNotAuthenticated, creds.ExpiresAt.Format(time.RFC3339))
	}
	if !creds.IsAdmin() {
		return domain.Credentials{}, fmt.Errorf("user %q has role %q: %w", creds.Name, creds.Role, domain.ErrNotAdmin)
	}

	slog.Info("Authenticated against football api",
		"user_id", creds.UserID,
		"name", creds.Name,
		"expires_at", creds.ExpiresAt,
	)
	return creds, nil
}
