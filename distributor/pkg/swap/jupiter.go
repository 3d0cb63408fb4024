package swap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/feeward/feeward/distributor/pkg/metrics"
	"github.com/feeward/feeward/utils/pkg/retry"
)

const serviceName = "jupiter"

// ErrQuoteRejected is returned when the routing service answers a quote
// request with an error, typically because no route exists.
var ErrQuoteRejected = errors.New("quote rejected")

type apiError struct {
	statusCode int
	message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("jupiter returned status %d: %s", e.statusCode, e.message)
}

func (e *apiError) StatusCode() int {
	return e.statusCode
}

type JupiterConfig struct {
	Logger     *slog.Logger
	BaseURL    string
	HTTPClient *http.Client
	Retry      retry.Config
}

func (cfg *JupiterConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		return errors.New("base url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// JupiterClient calls the Jupiter v6 quote and swap endpoints. Neither call
// moves funds, so both are retried.
type JupiterClient struct {
	log     *slog.Logger
	cfg     JupiterConfig
	baseURL string
}

func NewJupiterClient(cfg JupiterConfig) (*JupiterClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &JupiterClient{
		log:     cfg.Logger.With("component", "jupiter"),
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}, nil
}

// Quote returns the raw quote document, passed back verbatim to BuildSwap.
func (c *JupiterClient) Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps uint16) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint.String())
	q.Set("outputMint", outputMint.String())
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.FormatUint(uint64(slippageBps), 10))

	body, err := retry.DoValue(ctx, c.cfg.Retry, func() ([]byte, error) {
		return c.do(ctx, "quote", http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	})
	if err != nil {
		return nil, err
	}

	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	if len(probe.Error) > 0 && string(probe.Error) != "null" {
		return nil, fmt.Errorf("%w: %s", ErrQuoteRejected, string(probe.Error))
	}
	return json.RawMessage(body), nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports"`
}

type swapResponse struct {
	SwapTransaction string          `json:"swapTransaction"`
	Error           json.RawMessage `json:"error"`
}

// BuildSwap asks the service to assemble an unsigned swap transaction for
// user against quote.
func (c *JupiterClient) BuildSwap(ctx context.Context, quote json.RawMessage, user solana.PublicKey) (*solana.Transaction, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:             quote,
		UserPublicKey:             user.String(),
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal swap request: %w", err)
	}

	body, err := retry.DoValue(ctx, c.cfg.Retry, func() ([]byte, error) {
		return c.do(ctx, "swap", http.MethodPost, c.baseURL+"/swap", payload)
	})
	if err != nil {
		return nil, err
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode swap response: %w", err)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return nil, fmt.Errorf("jupiter swap: %s", string(resp.Error))
	}
	if resp.SwapTransaction == "" {
		return nil, errors.New("jupiter swap: empty transaction")
	}

	raw, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("failed to decode swap transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse swap transaction: %w", err)
	}
	return tx, nil
}

func (c *JupiterClient) do(ctx context.Context, operation, method, target string, payload []byte) (_ []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPClientRequest(serviceName, operation, time.Since(start), err)
	}()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", operation, err)
	}
	// The quote endpoint reports missing routes as 400 with an error body.
	if resp.StatusCode == http.StatusBadRequest && operation == "quote" {
		return body, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Debug("jupiter: unexpected status", "operation", operation, "status", resp.StatusCode)
		return nil, &apiError{statusCode: resp.StatusCode, message: strings.TrimSpace(string(body))}
	}
	return body, nil
}
