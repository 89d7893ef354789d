package client

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"

	"github.com/casedesk/relay/dispatch"
	"github.com/casedesk/relay/session"
)

var tokenFields = []string{"token", "access_token", "accessToken"}

// Login posts credentials to the login path. A token in the answer is kept for
// bearer profiles. The identity comes from the answer, or from the probe path
// when the answer carries none.
func (c *Client) Login(ctx context.Context, credentials any) (*session.Identity, error) {
	resp, err := c.Request(ctx, nethttp.MethodPost, c.cfg.Session.LoginPath, credentials)
	if err != nil {
		return nil, err
	}

	if token := extractToken(resp.Body); token != "" {
		if err := c.tokens.SetToken(ctx, token); err != nil {
			return nil, fmt.Errorf("client: store token: %w", err)
		}
	}

	id, err := session.ParseIdentity(resp.Body)
	if err != nil {
		probe, perr := c.Request(ctx, nethttp.MethodGet, c.cfg.Session.ProbePath, nil)
		if perr != nil {
			return nil, perr
		}
		if id, err = session.ParseIdentity(probe.Body); err != nil {
			return nil, fmt.Errorf("client: login: %w", err)
		}
	}

	c.state.SetIdentity(id)
	c.logger.Info().Str("user", id.ID).Str("profile", resp.Profile).Msg("signed in")
	return c.state.Identity(), nil
}

// Logout tells the backend to end the session and clears local state. Local
// state is cleared even when the backend call fails; a 401 counts as success.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Request(ctx, nethttp.MethodPost, c.cfg.Session.LogoutPath, nil)
	if err != nil && dispatch.IsKind(err, dispatch.KindUnauthorized) {
		err = nil
	}

	if cerr := c.tokens.Clear(context.WithoutCancel(ctx)); cerr != nil {
		c.logger.Warn().Err(cerr).Msg("failed to clear stored token")
	}
	c.state.Logout()
	return err
}

func extractToken(body []byte) string {
	var doc map[string]json.RawMessage
	if json.Unmarshal(body, &doc) != nil {
		return ""
	}
	for _, field := range tokenFields {
		var token string
		if raw, ok := doc[field]; ok && json.Unmarshal(raw, &token) == nil && token != "" {
			return token
		}
	}
	if data, ok := doc["data"]; ok {
		return extractToken(data)
	}
	return ""
}
