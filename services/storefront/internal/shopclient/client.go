package shopclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bananastore/internal/util"
	"bananastore/pkg/domain"
)

// Config configures the shop API client.
type Config struct {
	BaseURL      string
	Prefix       string
	APIKey       string
	APIKeyHeader string
	AuthScheme   string
	Timeout      time.Duration
}

// Client calls the external shop API over HTTP.
type Client struct {
	baseURL      string
	prefix       string
	apiKey       string
	apiKeyHeader string
	authScheme   string
	httpClient   *http.Client
}

// APIError represents a shop API error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a shop API client.
func NewClient(cfg Config) *Client {
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "/api"
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
		apiKey:       strings.TrimSpace(cfg.APIKey),
		apiKeyHeader: header,
		authScheme:   strings.TrimSpace(cfg.AuthScheme),
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Login authenticates with email and password. A two-factor challenge is
// reported through LoginResult rather than as an error.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp LoginResult
	if err := c.doJSON(ctx, call{method: http.MethodPost, path: "/auth/login", payload: payload}, &resp); err != nil {
		return LoginResult{}, err
	}
	if !resp.RequiresTwoFactor && resp.User == nil {
		return LoginResult{}, errors.New("shop api: login response missing user")
	}
	return resp, nil
}

func (c *Client) VerifyOTP(ctx context.Context, otpToken, code string) (VerifyResult, error) {
	payload := map[string]string{"otpToken": otpToken, "code": code}
	var resp VerifyResult
	if err := c.doJSON(ctx, call{method: http.MethodPost, path: "/auth/verify-otp", payload: payload}, &resp); err != nil {
		return VerifyResult{}, err
	}
	if resp.User.ID == "" {
		return VerifyResult{}, errors.New("shop api: verify response missing user")
	}
	return resp, nil
}

func (c *Client) Register(ctx context.Context, email, password string) (domain.User, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp userResponse
	if err := c.doJSON(ctx, call{method: http.MethodPost, path: "/auth/register", payload: payload}, &resp); err != nil {
		return domain.User{}, err
	}
	if resp.User.ID == "" {
		return domain.User{}, errors.New("shop api: register response missing user")
	}
	return resp.User, nil
}

// LinkToken requests a short-lived Discord link token for the user.
func (c *Client) LinkToken(ctx context.Context, userID string) (string, error) {
	var resp struct {
		LinkToken string `json:"linkToken"`
	}
	q := url.Values{}
	q.Set("userId", userID)
	if err := c.doJSON(ctx, call{method: http.MethodGet, path: "/auth/discord/link-token", query: q}, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.LinkToken) == "" {
		return "", errors.New("shop api: empty link token")
	}
	return resp.LinkToken, nil
}

// ConnectURL returns the Discord consent URL for a link token.
func (c *Client) ConnectURL(ctx context.Context, linkToken, returnURL string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	q := url.Values{}
	q.Set("linkToken", linkToken)
	q.Set("returnUrl", returnURL)
	if err := c.doJSON(ctx, call{method: http.MethodGet, path: "/auth/discord/connect-url", query: q}, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.URL) == "" {
		return "", errors.New("shop api: empty connect url")
	}
	return resp.URL, nil
}

func (c *Client) Unlink(ctx context.Context, userID, email string) (domain.User, error) {
	payload := map[string]string{"userId": userID, "email": email}
	var resp userResponse
	if err := c.doJSON(ctx, call{method: http.MethodPost, path: "/auth/discord/unlink", payload: payload}, &resp); err != nil {
		return domain.User{}, err
	}
	if resp.User.ID == "" {
		return domain.User{}, errors.New("shop api: unlink response missing user")
	}
	return resp.User, nil
}

func (c *Client) PaymentMethods(ctx context.Context) (domain.PaymentMethods, error) {
	var resp domain.PaymentMethods
	if err := c.doJSON(ctx, call{method: http.MethodGet, path: "/payments/methods"}, &resp); err != nil {
		return domain.PaymentMethods{}, err
	}
	return resp, nil
}

func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (PaymentSession, error) {
	var resp PaymentSession
	err := c.doJSON(ctx, call{
		method:         http.MethodPost,
		path:           "/payments/create",
		payload:        req,
		idempotencyKey: req.AttemptID,
	}, &resp)
	if err != nil {
		return PaymentSession{}, err
	}
	return resp, nil
}

// Buy finalizes a purchase and waits for the API to report completion.
func (c *Client) Buy(ctx context.Context, req BuyRequest) (BuyResult, error) {
	var resp BuyResult
	err := c.doJSON(ctx, call{
		method:         http.MethodPost,
		path:           "/buy",
		payload:        req,
		idempotencyKey: req.AttemptID,
	}, &resp)
	if err != nil {
		return BuyResult{}, err
	}
	return resp, nil
}

func (c *Client) Orders(ctx context.Context, filter OrderFilter) ([]domain.Order, error) {
	q := url.Values{}
	if filter.UserID != "" {
		q.Set("userId", filter.UserID)
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, call{method: http.MethodGet, path: "/orders", query: q}, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.Order](raw)
}

func (c *Client) Products(ctx context.Context) ([]domain.Product, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, call{method: http.MethodGet, path: "/products"}, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.Product](raw)
}

type call struct {
	method         string
	path           string
	query          url.Values
	payload        any
	idempotencyKey string
}

func (c *Client) doJSON(ctx context.Context, in call, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var body io.Reader
	if in.payload != nil {
		data, err := json.Marshal(in.payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	target := c.baseURL + c.prefix + in.path
	if len(in.query) > 0 {
		target += "?" + in.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, in.method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in.payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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
	if in.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", in.idempotencyKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shop api %s %s: %w", in.method, in.path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errResp)
		msg := strings.TrimSpace(errResp.Error)
		if msg == "" {
			msg = strings.TrimSpace(errResp.Message)
		}
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.Code)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("shop api %s %s: decode: %w", in.method, in.path, err)
	}
	return nil
}

// decodeList accepts either a bare JSON array or an {"items": [...]} envelope.
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []T{}, nil
	}
	if trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var envelope struct {
		Items []T `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	if envelope.Items == nil {
		return []T{}, nil
	}
	return envelope.Items, nil
}
