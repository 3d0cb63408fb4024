package rewardledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/feeward/feeward/distributor/pkg/metrics"
	"github.com/feeward/feeward/utils/pkg/retry"
)

const serviceName = "reward_ledger"

// PendingReward is what the ledger says one account is owed but not yet paid.
type PendingReward struct {
	Account    string `json:"account"`
	SolAmount  Amount `json:"solAmount"`
	BonkAmount Amount `json:"bonkAmount"`
	JupAmount  Amount `json:"jupAmount"`
}

// ServiceError is an error the ledger reported in a response body.
type ServiceError struct {
	Operation string
	Message   string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("reward ledger %s: %s", e.Operation, e.Message)
}

type apiError struct {
	statusCode int
	message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("reward ledger returned status %d: %s", e.statusCode, e.message)
}

func (e *apiError) StatusCode() int {
	return e.statusCode
}

type Config struct {
	Logger  *slog.Logger
	BaseURL string

	HTTPClient *http.Client
	Retry      retry.Config
	// RequestsPerSecond paces outgoing calls; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		return errors.New("base url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return nil
}

// Client talks to the external reward ledger. Every call is best-effort: an
// error means this call's effect is unconfirmed.
type Client struct {
	log     *slog.Logger
	cfg     Config
	baseURL string
	limiter *rate.Limiter
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		log:     cfg.Logger.With("component", "rewardledger"),
		cfg:     cfg,
		baseURL: baseURL,
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   10,
		},
		Timeout: time.Minute,
	}
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Status json.RawMessage `json:"status"`
	Error  json.RawMessage `json:"error"`
}

// FetchPending returns every account with an unpaid reward.
func (c *Client) FetchPending(ctx context.Context) ([]PendingReward, error) {
	env, err := retry.DoValue(ctx, c.cfg.Retry, func() (envelope, error) {
		return c.do(ctx, "pendings", http.MethodGet, nil)
	})
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &ServiceError{Operation: "pendings", Message: "response has no data"}
	}
	var pending []PendingReward
	if err := json.Unmarshal(env.Data, &pending); err != nil {
		return nil, fmt.Errorf("failed to decode pending rewards: %w", err)
	}
	return pending, nil
}

type setAmountsRequest struct {
	Account    string `json:"account"`
	SolAmount  uint64 `json:"solAmount"`
	BonkAmount uint64 `json:"bonkAmount"`
	JupAmount  uint64 `json:"jupAmount"`
}

// SetAmounts overwrites an account's pending reward. Setting is idempotent,
// so transient failures are retried.
func (c *Client) SetAmounts(ctx context.Context, account string, sol, bonk, jup uint64) error {
	body := setAmountsRequest{Account: account, SolAmount: sol, BonkAmount: bonk, JupAmount: jup}
	return retry.Do(ctx, c.cfg.Retry, func() error {
		_, err := c.do(ctx, "set_token_amount", http.MethodPost, body)
		return err
	})
}

type addAmountsRequest struct {
	Account    string `json:"account"`
	SolAddend  uint64 `json:"solAddend"`
	BonkAddend uint64 `json:"bonkAddend"`
	JupAddend  uint64 `json:"jupAddend"`
}

// AddAmounts increments an account's pending reward. A retried increment
// could apply twice, so it is sent exactly once.
func (c *Client) AddAmounts(ctx context.Context, account string, solDelta, bonkDelta, jupDelta uint64) error {
	_, err := c.do(ctx, "add_token_amount", http.MethodPost, addAmountsRequest{
		Account:    account,
		SolAddend:  solDelta,
		BonkAddend: bonkDelta,
		JupAddend:  jupDelta,
	})
	return err
}

func (c *Client) do(ctx context.Context, operation, method string, body any) (env envelope, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return envelope{}, err
	}

	start := time.Now()
	defer func() {
		metrics.RecordHTTPClientRequest(serviceName, operation, time.Since(start), err)
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return envelope{}, retry.Permanent(fmt.Errorf("failed to marshal %s request: %w", operation, err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+operation, reader)
	if err != nil {
		return envelope{}, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("failed to send %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return envelope{}, fmt.Errorf("failed to read %s response: %w", operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return envelope{}, &apiError{statusCode: resp.StatusCode, message: strings.TrimSpace(string(respBody))}
	}

	if err := json.Unmarshal(respBody, &env); err != nil {
		return envelope{}, retry.Permanent(fmt.Errorf("failed to decode %s response: %w", operation, err))
	}
	if msg, ok := reportedError(env.Error); ok {
		c.log.Warn("rewardledger: service reported error", "operation", operation, "error", msg)
		return envelope{}, retry.Permanent(&ServiceError{Operation: operation, Message: msg})
	}
	return env, nil
}

// reportedError interprets the error field, which the service sends as a
// string or an object.
func reportedError(raw json.RawMessage) (string, bool) {
	s := strings.TrimSpace(string(raw))
	switch s {
	case "", "null", "false", `""`, "0":
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return msg, true
	}
	return s, true
}
