package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/brightloom/syncengine/internal/tokenfile"
)

func TestCurrentSession_ReturnsUnexpiredTokenWithoutRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	tok := &oauth2.Token{AccessToken: "abc", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, tokenfile.Save(path, tok, map[string]string{"display_name": "Alice"}))

	p := New(path, &oauth2.Config{}, "fallback-user")

	sess, err := p.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", sess.Token)
	assert.Equal(t, "Alice", sess.User)
}

func TestCurrentSession_FallsBackToConfiguredUserWithoutDisplayName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	tok := &oauth2.Token{AccessToken: "abc", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, tokenfile.Save(path, tok, nil))

	p := New(path, &oauth2.Config{}, "fallback-user")

	sess, err := p.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fallback-user", sess.User)
}

func TestCurrentSession_ErrorsWhenNoTokenFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	p := New(path, &oauth2.Config{}, "user")

	_, err := p.CurrentSession(context.Background())
	assert.Error(t, err)
}

func TestValidateSession_TrueForValidToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	tok := &oauth2.Token{AccessToken: "abc", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, tokenfile.Save(path, tok, nil))

	p := New(path, &oauth2.Config{}, "user")

	ok, user, err := p.ValidateSession(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user", user)
}

func TestValidateSession_FalseWhenUnauthenticated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	p := New(path, &oauth2.Config{}, "user")

	ok, _, err := p.ValidateSession(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
}
