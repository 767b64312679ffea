package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

// SessionSource reports the authenticated user the sync runs as. A drain
// is deferred while no session is available.
type SessionSource interface {
	UserID(ctx context.Context) (string, error)
}

// Session holds the backend auth session, refreshing the access token
// from the stored refresh token as needed.
type Session struct {
	src oauth2.TokenSource
}

func NewSession(ctx context.Context, tokenURL, clientID, clientSecret, refreshToken string) *Session {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	tok := &oauth2.Token{RefreshToken: refreshToken}
	return &Session{src: conf.TokenSource(ctx, tok)}
}

// Token returns a currently valid access token.
func (s *Session) Token(ctx context.Context) (string, error) {
	tok, err := s.src.Token()
	if err != nil {
		return "", fmt.Errorf("refresh session token: %w", err)
	}
	return tok.AccessToken, nil
}

// UserID extracts the subject from the access token. The backend issued
// and signed the token; locally only the claim is read.
func (s *Session) UserID(ctx context.Context) (string, error) {
	raw, err := s.Token(ctx)
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("session token has no subject")
	}
	return sub, nil
}
