package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"warden/pkg/platform/sentinel"
)

// HTTPClient talks to the chat platform's REST gateway. Status codes are
// mapped onto sentinel errors so the core never sees HTTP details.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient builds a client for the gateway at baseURL authenticating
// with the bot token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) SendMessage(ctx context.Context, channelID, content string) error {
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))
	return c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, nil)
}

func (c *HTTPClient) SendDirectMessage(ctx context.Context, userID, content string) error {
	path := fmt.Sprintf("/users/%s/messages", url.PathEscape(userID))
	return c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, nil)
}

func (c *HTTPClient) AssignRole(ctx context.Context, guildID, memberID, roleID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s",
		url.PathEscape(guildID), url.PathEscape(memberID), url.PathEscape(roleID))
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

func (c *HTTPClient) RevokeRole(ctx context.Context, guildID, memberID, roleID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s",
		url.PathEscape(guildID), url.PathEscape(memberID), url.PathEscape(roleID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) BanMember(ctx context.Context, guildID, memberID, reason string) error {
	path := fmt.Sprintf("/guilds/%s/bans/%s", url.PathEscape(guildID), url.PathEscape(memberID))
	return c.do(ctx, http.MethodPut, path, map[string]string{"reason": reason}, nil)
}

func (c *HTTPClient) ListInvites(ctx context.Context, guildID string) ([]Invite, error) {
	var invites []Invite
	path := fmt.Sprintf("/guilds/%s/invites", url.PathEscape(guildID))
	if err := c.do(ctx, http.MethodGet, path, nil, &invites); err != nil {
		return nil, err
	}
	return invites, nil
}

func (c *HTTPClient) GetMember(ctx context.Context, guildID, memberID string) (*Member, error) {
	var member Member
	path := fmt.Sprintf("/guilds/%s/members/%s", url.PathEscape(guildID), url.PathEscape(memberID))
	if err := c.do(ctx, http.MethodGet, path, nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *HTTPClient) ListMembers(ctx context.Context, guildID string) ([]Member, error) {
	var members []Member
	path := fmt.Sprintf("/guilds/%s/members", url.PathEscape(guildID))
	if err := c.do(ctx, http.MethodGet, path, nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return sentinel.ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return sentinel.ErrForbidden
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: %w (status %d)", method, path, sentinel.ErrUnavailable, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
