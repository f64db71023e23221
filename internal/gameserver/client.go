// Package gameserver talks to the game platform: the public profile
// directory for name resolution, and the companion plugin's HTTP API
// for presence checks and in-game message delivery.
package gameserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gamelink.org/internal/link"
)

// ErrNotFound indicates the profile directory has no such player.
var ErrNotFound = errors.New("gameserver: player not found")

// ErrUnavailable indicates the plugin API failed or timed out.
var ErrUnavailable = errors.New("gameserver: server unavailable")

const defaultTimeout = 10 * time.Second

// Client implements the link collaborator interfaces over HTTP.
type Client struct {
	profileURL string
	serverURL  string
	apiKey     string
	httpc      *http.Client
}

var (
	_ link.Directory = (*Client)(nil)
	_ link.Presence  = (*Client)(nil)
	_ link.Messenger = (*Client)(nil)
)

// Option configures Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (useful for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpc = c
		}
	}
}

// New constructs a Client. profileURL serves name resolution, serverURL
// is the plugin API authenticated with apiKey.
func New(profileURL, serverURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		profileURL: strings.TrimRight(profileURL, "/"),
		serverURL:  strings.TrimRight(serverURL, "/"),
		apiKey:     apiKey,
		httpc:      &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveByName resolves a claimed player name to its canonical id and
// spelling via the profile directory.
func (c *Client) ResolveByName(ctx context.Context, name string) (link.Player, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.profileURL+"/users/profiles/"+url.PathEscape(name), nil)
	if err != nil {
		return link.Player{}, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return link.Player{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return link.Player{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return link.Player{}, fmt.Errorf("%w: profile status %d", ErrUnavailable, resp.StatusCode)
	}

	var body struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return link.Player{}, fmt.Errorf("%w: decode profile: %v", ErrUnavailable, err)
	}
	if body.ID == "" {
		return link.Player{}, ErrNotFound
	}
	return link.Player{ID: FormatPlayerID(body.ID), Name: body.Name}, nil
}

// IsOnline probes the plugin API for a live session under name.
func (c *Client) IsOnline(ctx context.Context, name string) (bool, error) {
	var body struct {
		Online bool `json:"online"`
	}
	if err := c.pluginGET(ctx, "/api/players/"+url.PathEscape(name), &body); err != nil {
		return false, err
	}
	return body.Online, nil
}

// Deliver sends text to the named player in-game.
func (c *Client) Deliver(ctx context.Context, name, text string) error {
	payload, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.serverURL+"/api/players/"+url.PathEscape(name)+"/message", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: deliver status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// ServerStatus reports the plugin's view of the game server.
type ServerStatus struct {
	Online     bool `json:"online"`
	Players    int  `json:"players"`
	MaxPlayers int  `json:"max_players"`
}

// Status fetches current server occupancy. Used by the admin surface.
func (c *Client) Status(ctx context.Context) (ServerStatus, error) {
	var body struct {
		Online     bool `json:"online"`
		Players    int  `json:"players"`
		MaxPlayers int  `json:"maxPlayers"`
	}
	if err := c.pluginGET(ctx, "/api/status", &body); err != nil {
		return ServerStatus{}, err
	}
	return ServerStatus{Online: body.Online, Players: body.Players, MaxPlayers: body.MaxPlayers}, nil
}

func (c *Client) pluginGET(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// FormatPlayerID normalizes a 32-hex player id to its dashed canonical
// form; already-dashed or foreign ids pass through unchanged.
func FormatPlayerID(id string) string {
	clean := strings.ReplaceAll(id, "-", "")
	if len(clean) != 32 {
		return id
	}
	return strings.ToLower(clean[0:8] + "-" + clean[8:12] + "-" + clean[12:16] + "-" + clean[16:20] + "-" + clean[20:32])
}
