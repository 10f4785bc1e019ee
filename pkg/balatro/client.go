package balatro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/harun/balatrollm/pkg/game"
)

const DefaultTimeout = 30 * time.Second

// StartParams configures a new run.
type StartParams struct {
	Deck  string `json:"deck"`
	Stake string `json:"stake"`
	Seed  string `json:"seed,omitempty"`
}

// Client speaks JSON-RPC 2.0 over HTTP to one game instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	nextID     atomic.Int64
	closed     atomic.Bool
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Name string `json:"name"`
		} `json:"data"`
	} `json:"error"`
	ID int64 `json:"id"`
}

// NewClient creates a client bound to host:port.
func NewClient(host string, port int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d/", host, port),
		// Own transport so Close only drops this client's connections.
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
	}
}

// Endpoint returns the URL requests are posted to.
func (c *Client) Endpoint() string {
	return c.baseURL
}

// Call sends one request and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if params == nil {
		params = map[string]any{}
	}

	payload, err := json.Marshal(request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", method, err)
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("%s: failed to decode response: %w", method, err)
	}

	if out.Error != nil {
		return nil, &Error{
			Code:    out.Error.Code,
			Message: out.Error.Message,
			Name:    out.Error.Data.Name,
		}
	}
	if out.Result == nil {
		return nil, fmt.Errorf("%s: %w", method, ErrNoResult)
	}
	return out.Result, nil
}

// Start begins a new run and returns the first gamestate.
func (c *Client) Start(ctx context.Context, p StartParams) (*game.Gamestate, error) {
	raw, err := c.Call(ctx, "start", p)
	if err != nil {
		return nil, err
	}
	return game.DecodeGamestate(raw)
}

// FetchState returns the current gamestate.
func (c *Client) FetchState(ctx context.Context) (*game.Gamestate, error) {
	raw, err := c.Call(ctx, "gamestate", nil)
	if err != nil {
		return nil, err
	}
	return game.DecodeGamestate(raw)
}

// ApplyAction sends the action as a method call. The phase is informational;
// the game rejects actions that are not legal in its current state.
func (c *Client) ApplyAction(ctx context.Context, phase game.Phase, action game.Action) (*game.Gamestate, error) {
	params, err := action.Params()
	if err != nil {
		return nil, err
	}
	raw, err := c.Call(ctx, action.Name, params)
	if err != nil {
		return nil, fmt.Errorf("%s in %s: %w", action.Name, phase, err)
	}
	gs, err := game.DecodeGamestate(raw)
	if err != nil {
		// Some methods acknowledge without returning a gamestate.
		return nil, nil
	}
	return gs, nil
}

// Reset returns the game to the main menu.
func (c *Client) Reset(ctx context.Context) error {
	_, err := c.Call(ctx, "menu", nil)
	return err
}

// Health checks the game answers requests.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.Call(ctx, "health", nil)
	return err
}

// Close releases idle connections; later calls return ErrClosed.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.httpClient.CloseIdleConnections()
	return nil
}
