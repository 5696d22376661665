// Package auth is a reference AuthCollaborator backed by a token file on
// disk and an oauth2.Config, grounded on the teacher's token-file-backed
// login flow (load cached token, refresh via oauth2, persist back to disk
// on refresh) generalized away from a single OneDrive account to an
// arbitrary RequestingUser string.
package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/brightloom/syncengine/internal/syncengine"
	"github.com/brightloom/syncengine/internal/tokenfile"
)

// Provider implements syncengine.AuthCollaborator against a single token
// file, refreshing the underlying OAuth2 token on demand.
type Provider struct {
	path   string
	oauth  *oauth2.Config
	user   string
}

// New builds a Provider for user, persisting tokens at path and refreshing
// them through oauthCfg.
func New(path string, oauthCfg *oauth2.Config, user string) *Provider {
	return &Provider{path: path, oauth: oauthCfg, user: user}
}

// CurrentSession implements syncengine.AuthCollaborator. It loads the
// cached token, refreshing it transparently if expired, and persists any
// refreshed token back to disk.
func (p *Provider) CurrentSession(ctx context.Context) (syncengine.Session, error) {
	tok, meta, err := tokenfile.Load(p.path)
	if err != nil {
		return syncengine.Session{}, fmt.Errorf("auth: loading token: %w", err)
	}

	if tok == nil {
		return syncengine.Session{}, fmt.Errorf("auth: not authenticated")
	}

	src := p.oauth.TokenSource(ctx, tok)

	fresh, err := src.Token()
	if err != nil {
		return syncengine.Session{}, fmt.Errorf("auth: refreshing token: %w", err)
	}

	if fresh.AccessToken != tok.AccessToken {
		if saveErr := tokenfile.Save(p.path, fresh, meta); saveErr != nil {
			return syncengine.Session{}, fmt.Errorf("auth: persisting refreshed token: %w", saveErr)
		}
	}

	user := p.user
	if name, ok := meta["display_name"]; ok && name != "" {
		user = name
	}

	return syncengine.Session{User: user, Token: fresh.AccessToken, ExpiresAt: fresh.Expiry}, nil
}

// ValidateSession implements syncengine.AuthCollaborator.
func (p *Provider) ValidateSession(ctx context.Context) (bool, string, error) {
	sess, err := p.CurrentSession(ctx)
	if err != nil {
		return false, "", err
	}

	return true, sess.User, nil
}
