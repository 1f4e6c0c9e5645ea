package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"questline/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the questline HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	_, err := c.call(ctx, http.MethodGet, "/healthz", nil, &hs)
	return hs, err
}

// ListQuests returns the catalog, optionally filtered.
func (c *Client) ListQuests(ctx context.Context, f QuestFilter) ([]Quest, error) {
	q := url.Values{}
	if f.Category != "" {
		q.Set("category", string(f.Category))
	}
	if f.Difficulty != "" {
		q.Set("difficulty", string(f.Difficulty))
	}
	path := "/quests"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Quest
	_, err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// PutUser provisions a profile or renames an existing one. created reports
// whether the profile is new.
func (c *Client) PutUser(ctx context.Context, userID, displayName string) (p core.Profile, created bool, err error) {
	path, err := userPath(userID, "")
	if err != nil {
		return core.Profile{}, false, err
	}
	status, err := c.call(ctx, http.MethodPut, path, map[string]string{"display_name": displayName}, &p)
	return p, status == http.StatusCreated, err
}

// GetUser fetches the profile and level progress for a user.
func (c *Client) GetUser(ctx context.Context, userID string) (Progress, error) {
	path, err := userPath(userID, "")
	if err != nil {
		return Progress{}, err
	}
	var out Progress
	_, err = c.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CompleteQuest marks a quest completed for the user.
func (c *Client) CompleteQuest(ctx context.Context, userID, questID, notes string) (Completion, error) {
	path, err := userPath(userID, "/quests/"+url.PathEscape(questID)+"/complete")
	if err != nil {
		return Completion{}, err
	}
	var body any
	if notes != "" {
		body = map[string]string{"notes": notes}
	}
	var out Completion
	_, err = c.call(ctx, http.MethodPost, path, body, &out)
	return out, err
}

// GetBadges lists every catalog badge with the user's unlock state.
func (c *Client) GetBadges(ctx context.Context, userID string) ([]BadgeStatus, error) {
	path, err := userPath(userID, "/badges")
	if err != nil {
		return nil, err
	}
	var out []BadgeStatus
	_, err = c.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// EvaluateBadges re-runs badge unlock rules and returns newly granted badges.
func (c *Client) EvaluateBadges(ctx context.Context, userID string) ([]core.Badge, error) {
	path, err := userPath(userID, "/badges/evaluate")
	if err != nil {
		return nil, err
	}
	var out struct {
		NewBadges []core.Badge `json:"new_badges"`
	}
	_, err = c.call(ctx, http.MethodPost, path, nil, &out)
	return out.NewBadges, err
}

// CanSpin reports whether the daily wheel is available today.
func (c *Client) CanSpin(ctx context.Context, userID string) (bool, error) {
	path, err := userPath(userID, "/spin")
	if err != nil {
		return false, err
	}
	var out struct {
		CanSpin bool `json:"can_spin"`
	}
	_, err = c.call(ctx, http.MethodGet, path, nil, &out)
	return out.CanSpin, err
}

// Spin spins the daily wheel. A second spin on the same day fails with an
// error matching ErrAlreadySpunToday.
func (c *Client) Spin(ctx context.Context, userID string) (Spin, error) {
	path, err := userPath(userID, "/spin")
	if err != nil {
		return Spin{}, err
	}
	var out Spin
	_, err = c.call(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

// Leaderboard returns the top users by points. limit <= 0 uses the server default.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]core.LeaderboardRow, error) {
	path := "/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []core.LeaderboardRow
	_, err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// A non-empty userID limits the stream to that user's events.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, userID string) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if userID != "" {
		target += "?user=" + url.QueryEscape(userID)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, err
	}
	c.applyHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeJSON(resp, out)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func userPath(userID, suffix string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrEmptyUserID
	}
	return "/users/" + url.PathEscape(userID) + suffix, nil
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
