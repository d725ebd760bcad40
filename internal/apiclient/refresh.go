package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/models"
)

// RefreshPath is the backend endpoint that rotates tokens.
const RefreshPath = "/auth/refresh"

// RotationWindow is how long a completed refresh stays visible to requests
// that still carry the token it replaced.
const RotationWindow = time.Minute

// Refresher deduplicates token refreshes per session key. One Refresher is
// shared by all clients in the process. Besides the in-flight group it
// remembers recent rotations, so a request that read its tokens before a
// finished refresh adopts the new pair instead of spending the rotated
// refresh token again.
type Refresher struct {
	group   singleflight.Group
	rotated *expirable.LRU[string, models.Tokens]
}

func NewRefresher() *Refresher {
	return &Refresher{rotated: expirable.NewLRU[string, models.Tokens](4096, nil, RotationWindow)}
}

func rotationKey(sessionKey, accessToken string) string {
	return sessionKey + "\x00" + accessToken
}

// remember records that from was replaced by tokens for sessionKey.
func (r *Refresher) remember(sessionKey, from string, tokens models.Tokens) {
	if from == "" || from == tokens.AccessToken {
		return
	}
	r.rotated.Add(rotationKey(sessionKey, from), tokens)
}

// successor follows recorded rotations starting at from and returns the
// newest pair. ok is false when from was never rotated in this process.
func (r *Refresher) successor(sessionKey, from string) (models.Tokens, bool) {
	var latest models.Tokens
	found := false
	for hops := 0; hops < 8 && from != ""; hops++ {
		next, ok := r.rotated.Get(rotationKey(sessionKey, from))
		if !ok {
			break
		}
		latest, found, from = next, true, next.AccessToken
	}
	return latest, found
}

// recoverToken returns the token to replay a request with after it failed
// with cause while carrying failed.
func (c *Client) recoverToken(ctx context.Context, failed string, cause error) (string, error) {
	if token, ok, err := c.shortcut(failed, cause); ok {
		if err == nil {
			c.reportRefresh(ctx, RefreshSkipped)
		}
		return token, err
	}

	var executed bool
	ch := c.refresher.group.DoChan(c.tokens.Key(), func() (any, error) {
		executed = true
		return c.refresh(ctx, failed, cause)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if executed {
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(models.Tokens).AccessToken, nil
	}

	c.reportRefresh(ctx, RefreshJoined)
	if res.Err != nil {
		// Another request's store refreshed and logged out; mirror that here.
		if failed != "" && c.tokens.AccessToken() == failed {
			if err := c.tokens.Logout(ctx); err != nil {
				c.logger.Warn("logout after shared refresh failure", zap.Error(err))
			}
			c.SetHeader("Authorization", "")
			c.sessionEnded(ctx)
		}
		return "", res.Err
	}
	tokens := res.Val.(models.Tokens)
	c.adopt(ctx, tokens)
	return tokens.AccessToken, nil
}

// shortcut resolves a 401 without refreshing when the store already moved on.
// ok is false when a refresh is needed.
func (c *Client) shortcut(failed string, cause error) (token string, ok bool, err error) {
	current := c.tokens.AccessToken()
	switch {
	case current != "" && current != failed:
		return current, true, nil
	case current == "" && failed != "":
		return "", true, fmt.Errorf("%w: %w", ErrRefreshFailed, cause)
	case current == "" && c.tokens.RefreshToken() == "":
		return "", true, cause
	}
	return "", false, nil
}

// refresh runs inside the flight. It is detached from the first caller's
// cancellation and bounded by the client timeout.
func (c *Client) refresh(ctx context.Context, failed string, cause error) (models.Tokens, error) {
	if token, ok, err := c.shortcut(failed, cause); ok {
		if err == nil {
			c.reportRefresh(ctx, RefreshSkipped)
		}
		return models.Tokens{AccessToken: token}, err
	}

	key := c.tokens.Key()
	if tokens, ok := c.refresher.successor(key, c.tokens.AccessToken()); ok {
		c.adopt(ctx, tokens)
		c.reportRefresh(ctx, RefreshSkipped)
		return tokens, nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	previous := c.tokens.AccessToken()
	tokens, err := c.postRefresh(ctx, c.tokens.RefreshToken())
	if err != nil {
		c.logger.Warn("token refresh failed", zap.String("session", key), zap.Error(err))
		c.reportRefresh(ctx, RefreshFailed)
		if c.hooks.OnLogout != nil {
			c.hooks.OnLogout(ctx, key)
		}
		if lerr := c.tokens.Logout(ctx); lerr != nil {
			c.logger.Warn("logout after refresh failure", zap.String("session", key), zap.Error(lerr))
		}
		c.SetHeader("Authorization", "")
		c.sessionEnded(ctx)
		return models.Tokens{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	c.refresher.remember(key, previous, tokens)
	if err := c.tokens.SetTokens(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
		c.logger.Warn("store refreshed tokens", zap.String("session", key), zap.Error(err))
	}
	c.SetHeader("Authorization", "Bearer "+tokens.AccessToken)
	c.reportRefresh(ctx, RefreshSucceeded)
	c.logger.Info("access token refreshed", zap.String("session", key))
	return tokens, nil
}

// adopt takes over tokens another request of the same session obtained.
func (c *Client) adopt(ctx context.Context, tokens models.Tokens) {
	if c.tokens.AccessToken() != tokens.AccessToken {
		if err := c.tokens.SetTokens(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
			c.logger.Warn("store rotated tokens", zap.String("session", c.tokens.Key()), zap.Error(err))
		}
	}
	c.SetHeader("Authorization", "Bearer "+tokens.AccessToken)
}

// postRefresh calls the refresh endpoint with the refresh token as a cookie
// and no body. The expired access token is never sent.
func (c *Client) postRefresh(ctx context.Context, refreshToken string) (models.Tokens, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RefreshPath, nil)
	if err != nil {
		return models.Tokens{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if refreshToken != "" {
		req.AddCookie(&http.Cookie{Name: cookies.RefreshToken, Value: refreshToken})
	}

	raw, err := c.roundTrip(req, RefreshPath)
	if err != nil {
		return models.Tokens{}, err
	}
	var tokens models.Tokens
	if err := decodeData(raw, &tokens); err != nil {
		return models.Tokens{}, err
	}
	if tokens.AccessToken == "" {
		return models.Tokens{}, errors.New("refresh response carried no access token")
	}
	return tokens, nil
}

func (c *Client) sessionEnded(ctx context.Context) {
	if c.hooks.OnSessionEnded != nil {
		c.hooks.OnSessionEnded(ctx, c.tokens.Key())
	}
}

func (c *Client) reportRefresh(ctx context.Context, outcome RefreshOutcome) {
	if c.hooks.OnRefresh != nil {
		c.hooks.OnRefresh(ctx, c.tokens.Key(), outcome)
	}
}
