package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"example.com/kinexsync/internal/domain"
)

// refreshTokenIfNeeded obtains a fresh access token for a caller whose request was made
// with stale. At most one refresh call is in flight: callers arriving while one runs wait
// for it and receive its outcome. A caller whose stale token was already replaced returns
// immediately so it can retry with the new one.
func (c *Client) refreshTokenIfNeeded(ctx context.Context, stale string) error {
	c.mu.Lock()
	if c.refreshing {
		wait := make(chan error, 1)
		c.waiters = append(c.waiters, wait)
		c.mu.Unlock()
		refreshWaiters.Inc()

		select {
		case err := <-wait:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	current, err := c.tokens.Load(ctx)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("load tokens: %w", err)
	}
	if current.AccessToken != "" && current.AccessToken != stale {
		c.mu.Unlock()
		return nil
	}

	c.refreshing = true
	c.mu.Unlock()

	err = c.performRefresh(ctx, current.RefreshToken)

	c.mu.Lock()
	waiting := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.mu.Unlock()

	for _, w := range waiting {
		w <- err
	}
	return err
}

func (c *Client) performRefresh(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		refreshCounter.WithLabelValues("missing").Inc()
		if err := c.tokens.Clear(ctx); err != nil {
			c.logger.Printf("clear tokens: %v", err)
		}
		return ErrUnauthorized
	}

	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return &EncodingError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath(c.refreshPath).String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Content-Type", ContentTypeJSON)
	req.Header.Set("Accept", ContentTypeJSON)

	resp, err := c.http.Do(req)
	if err != nil {
		refreshCounter.WithLabelValues("error").Inc()
		if !errorsIsCanceled(err) {
			c.logger.Printf("token refresh failed: %v", err)
		}
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		refreshCounter.WithLabelValues("error").Inc()
		return &NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		refreshCounter.WithLabelValues("rejected").Inc()
		c.logger.Printf("token refresh rejected with status %d, clearing credentials", resp.StatusCode)
		if err := c.tokens.Clear(ctx); err != nil {
			c.logger.Printf("clear tokens: %v", err)
		}
		return ErrUnauthorized
	}

	pair, err := decodeTokenPair(data)
	if err != nil {
		refreshCounter.WithLabelValues("invalid").Inc()
		return &DecodingError{Err: err}
	}
	if err := c.tokens.Save(ctx, pair); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	refreshCounter.WithLabelValues("success").Inc()
	return nil
}

func decodeTokenPair(data []byte) (domain.Tokens, error) {
	var payload struct {
		AccessToken       string `json:"accessToken"`
		RefreshToken      string `json:"refreshToken"`
		AccessTokenSnake  string `json:"access_token"`
		RefreshTokenSnake string `json:"refresh_token"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.Tokens{}, err
	}
	pair := domain.Tokens{AccessToken: payload.AccessToken, RefreshToken: payload.RefreshToken}
	if pair.AccessToken == "" {
		pair.AccessToken = payload.AccessTokenSnake
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = payload.RefreshTokenSnake
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return domain.Tokens{}, errors.New("token pair missing accessToken or refreshToken")
	}
	return pair, nil
}

// expiresSoon reports whether token is a JWT whose exp falls within the leeway.
// Opaque tokens are never considered expiring.
func (c *Client) expiresSoon(token string) bool {
	if c.leeway <= 0 || token == "" || strings.Count(token, ".") != 2 {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.Time.After(c.now().Add(c.leeway))
}
