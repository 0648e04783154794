package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenConfig describes how outbound HTTP calls obtain a bearer token.
type TokenConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	ExpirySkew   time.Duration
	// StaticToken bypasses the client credentials flow when set.
	StaticToken string
}

// TokenEndpoint returns the OpenID Connect token endpoint of a Keycloak realm.
func TokenEndpoint(issuer string) string {
	return strings.TrimRight(issuer, "/") + "/protocol/openid-connect/token"
}

// NewTokenSource returns a cached token source. Tokens are renewed
// ExpirySkew before they expire.
func NewTokenSource(ctx context.Context, cfg TokenConfig, logger log.FieldLogger) (oauth2.TokenSource, error) {
	if cfg.StaticToken != "" {
		return staticTokenSource(cfg.StaticToken, logger), nil
	}
	if cfg.Issuer == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("keycloak issuer, client id and client secret are required")
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     TokenEndpoint(cfg.Issuer),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})
	src := &clientCredentialsSource{ctx: ctx, cfg: cc}
	return oauth2.ReuseTokenSourceWithExpiry(nil, src, cfg.ExpirySkew), nil
}

// clientCredentialsSource fetches a fresh token on every call; caching is
// left to the reuse wrapper so that the configured skew applies.
type clientCredentialsSource struct {
	ctx context.Context
	cfg *clientcredentials.Config
}

func (s *clientCredentialsSource) Token() (*oauth2.Token, error) {
	tok, err := s.cfg.Token(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("keycloak token request to %s: %w", s.cfg.TokenURL, err)
	}
	return tok, nil
}

func staticTokenSource(token string, logger log.FieldLogger) oauth2.TokenSource {
	tok := &oauth2.Token{AccessToken: token, TokenType: "Bearer"}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		logger.Debug("Static token is not a JWT, expiry unknown")
		return oauth2.StaticTokenSource(tok)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tok.Expiry = exp.Time
		if time.Now().After(exp.Time) {
			logger.WithField("expired_at", exp.Time).Warn("Static token already expired")
		}
	}
	return oauth2.StaticTokenSource(tok)
}
