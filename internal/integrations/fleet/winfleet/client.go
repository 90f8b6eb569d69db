package winfleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/FleetBox/internal/integrations/fleet"
	"github.com/BearBump/FleetBox/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL   = "https://api.winfleet.lu"
	DefaultUserAgent = "DataCollector/1.0"
)

type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration // default: 30s
	Gate      fleet.Gate
}

// Client talks to the Winfleet REST API.
type Client struct {
	baseURL   string
	userAgent string
	httpc     *http.Client
	gate      fleet.Gate
}

var _ fleet.Client = (*Client)(nil)

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Gate == nil {
		opts.Gate = fleet.NoGate
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		httpc: &http.Client{
			Timeout: opts.Timeout,
		},
		gate: opts.Gate,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

func (c *Client) Authenticate(ctx context.Context, creds models.Credentials) (string, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return "", &models.AuthError{Err: errors.Wrap(err, "acquire rate limit")}
	}

	body, err := json.Marshal(loginRequest{Username: creds.Username, Password: creds.Password})
	if err != nil {
		return "", &models.AuthError{Err: errors.Wrap(err, "marshal login")}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", &models.AuthError{Err: errors.Wrap(err, "new request")}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &models.AuthError{Err: errors.Wrap(err, "do request")}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", &models.AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("winfleet login http %d", resp.StatusCode)}
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", &models.AuthError{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "decode")}
	}
	token := lr.Token
	if token == "" {
		token = lr.AccessToken
	}
	if token == "" {
		return "", &models.AuthError{StatusCode: resp.StatusCode, Err: errors.New("no token in login response")}
	}
	return token, nil
}

// FetchAssets returns the snapshot as sent by the API. Array elements that
// are not JSON objects come back as nil snapshots for the transformer to reject.
func (c *Client) FetchAssets(ctx context.Context, token string) ([]models.AssetSnapshot, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, &models.FetchError{Err: errors.Wrap(err, "acquire rate limit")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/assets/", nil)
	if err != nil {
		return nil, &models.FetchError{Err: errors.Wrap(err, "new request")}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &models.FetchError{Err: errors.Wrap(err, "do request")}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, &models.FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("winfleet assets http %d", resp.StatusCode)}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, &models.FetchError{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "decode")}
	}

	out := make([]models.AssetSnapshot, 0, len(items))
	for _, it := range items {
		obj, _ := it.(map[string]any)
		out = append(out, models.AssetSnapshot(obj))
	}
	return out, nil
}
