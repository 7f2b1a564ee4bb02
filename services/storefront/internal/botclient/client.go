package botclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bananastore/internal/util"
	"bananastore/pkg/domain"
)

// DefaultReply is used when the bridge answers without a reply.
const DefaultReply = "I could not generate a recommendation right now. Please try again."

// Config configures the bot bridge client.
type Config struct {
	BaseURL      string
	Prefix       string
	APIKey       string
	APIKeyHeader string
	AuthScheme   string
	Timeout      time.Duration
}

// Client calls the Discord bot's website bridge over HTTP.
type Client struct {
	baseURL      string
	prefix       string
	apiKey       string
	apiKeyHeader string
	authScheme   string
	httpClient   *http.Client
}

// BridgeError is a non-2xx bridge response.
type BridgeError struct {
	Status int
	Body   string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("Bridge request failed (%d): %s", e.Status, e.Body)
}

// NewClient constructs a bot bridge client.
func NewClient(cfg Config) *Client {
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "/api/bot"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	header := strings.ToLower(strings.TrimSpace(cfg.APIKeyHeader))
	if header == "" {
		header = "x-api-key"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		prefix:       strings.TrimRight(prefix, "/"),
		apiKey:       cfg.APIKey,
		apiKeyHeader: header,
		authScheme:   strings.TrimSpace(cfg.AuthScheme),
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Reply asks the bot for a product recommendation.
func (c *Client) Reply(ctx context.Context, message string, products []domain.Product) (string, error) {
	var resp bridgeResponse
	if err := c.post(ctx, "/chat", chatRequest{Message: message, Products: products}, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Reply) == "" {
		return DefaultReply, nil
	}
	return resp.Reply, nil
}

// SendOrder forwards a completed order to the bot.
func (c *Client) SendOrder(ctx context.Context, order domain.Order, user *domain.User, method domain.PaymentMethod) error {
	return c.post(ctx, "/order", orderRequest{Order: order, User: user, PaymentMethod: method}, nil)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.prefix+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		value := c.apiKey
		if c.authScheme != "" {
			value = c.authScheme + " " + c.apiKey
		}
		req.Header.Set(c.apiKeyHeader, value)
	}
	if id := util.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(util.RequestIDHeader, id)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bot bridge %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &BridgeError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bot bridge %s: decode: %w", path, err)
	}
	return nil
}

type bridgeResponse struct {
	OK      bool   `json:"ok"`
	Reply   string `json:"reply"`
	Message string `json:"message"`
}

type chatRequest struct {
	Message  string           `json:"message"`
	Products []domain.Product `json:"products"`
}

type orderRequest struct {
	Order         domain.Order         `json:"order"`
	User          *domain.User         `json:"user"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
}
