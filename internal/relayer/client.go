// Package relayer talks to the off-chain transfer relayer: the collaborator
// that actually moves funds privately between the two settlement legs. It
// wraps the call in retry/backoff and a circuit breaker, matching the
// teacher's http client stack (hashicorp/go-retryablehttp,
// cenkalti/backoff/v4) enriched with sony/gobreaker for the trip/cooldown
// behavior spec §6 calls for.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/luxfi/crank/internal/errs"
	"github.com/luxfi/crank/internal/metrics"
	"github.com/luxfi/geth/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// TransferRequest is the wire body of a private-transfer call.
type TransferRequest struct {
	FromWallet string `json:"fromWallet"`
	ToWallet   string `json:"toWallet"`
	Token      string `json:"token"`
	Amount     string `json:"amount"` // base-10 integer, smallest unit
	Reference  string `json:"reference"`
}

// TransferResponse is the relayer's reply to a transfer call.
type TransferResponse struct {
	TransferID string `json:"transferId"`
	Status     string `json:"status"`
}

// ProofUploadRequest is the first step of the two-step protocol: uploading
// the settlement proof before the relayer will accept the transfer itself.
type ProofUploadRequest struct {
	SettlementID string `json:"settlementId"`
	Proof        []byte `json:"proof"`
}

// Balance is the relayer pool's view of a wallet's holdings for a token,
// distinct from ledger.Balance: this is the relayer's private-pool
// accounting, not the on-chain account (spec §4.3).
type Balance struct {
	Available         uint64 `json:"available"`
	Deposited         uint64 `json:"deposited"`
	WithdrawnToEscrow uint64 `json:"withdrawnToEscrow"`
	Migrated          bool   `json:"migrated"`
}

// Client is the relayer HTTP collaborator.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	limiter    *rate.Limiter
	timeout    time.Duration
	metrics    *metrics.Metrics
}

// requestsPerSecond caps outbound relayer calls well under the relayer's own
// published rate limit, so the crank backs off locally instead of relying
// entirely on 429 responses to throttle itself.
const requestsPerSecond = 20

// Config configures a new Client.
type Config struct {
	BaseURL    string
	APIKey     string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	Metrics    *metrics.Metrics
}

// New builds a Client per cfg, wiring retryablehttp's exponential backoff
// the way the teacher's eth package configures its own HTTP clients.
func New(cfg Config) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.RetryDelay
	rc.RetryWaitMax = cfg.RetryDelay * 8
	rc.Logger = nil
	rc.HTTPClient.Timeout = cfg.Timeout

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: rc,
		breaker:    newBreaker("shadowwire"),
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		timeout:    cfg.Timeout,
		metrics:    cfg.Metrics,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.KindRateLimit, errs.CodeRateLimited, "local rate limit wait", err)
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, errs.Wrap(errs.KindInternal, errs.CodeInternal, "encode relayer request", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetwork, errs.CodeNetworkTransport, "build relayer request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.breaker.Execute(func() ([]byte, error) {
		start := time.Now()
		defer func() {
			if c.metrics != nil {
				c.metrics.RelayerLatency.Observe(time.Since(start).Seconds())
			}
		}()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errs.Wrap(errs.KindNetwork, errs.CodeNetworkTimeout, "relayer request failed", err).WithRetryable(true)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errs.Wrap(errs.KindNetwork, errs.CodeNetworkTransport, "read relayer response", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, errs.New(errs.KindRateLimit, errs.CodeRateLimited, "relayer rate limited").WithRetryable(true)
		}
		if resp.StatusCode >= 500 {
			return nil, errs.New(errs.KindNetwork, errs.CodeNetworkTransport,
				fmt.Sprintf("relayer returned %d", resp.StatusCode)).WithRetryable(true)
		}
		if resp.StatusCode >= 400 {
			return nil, errs.New(errs.KindPrivateTransfer, errs.CodeTransferFailed,
				fmt.Sprintf("relayer rejected request: %d %s", resp.StatusCode, string(data)))
		}
		return data, nil
	})
}

// UploadProof submits the settlement proof, the first step of the relayer's
// two-step transfer protocol.
func (c *Client) UploadProof(ctx context.Context, req ProofUploadRequest) error {
	log.Debug("uploading settlement proof", "settlementID", req.SettlementID)
	_, err := c.do(ctx, http.MethodPost, "/v1/proofs", req)
	return err
}

// Transfer issues a private transfer via the relayer's second step. It
// retries via backoff.Retry on top of retryablehttp's own backoff so a
// breaker-open window doesn't immediately fail the caller's whole operation.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	var out TransferResponse
	operation := func() error {
		data, err := c.do(ctx, http.MethodPost, "/v1/transfers", req)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &out)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	log.Info("relayer transfer submitted", "transferID", out.TransferID, "status", out.Status)
	return &out, nil
}

// ConfirmTransfer fetches the relayer's current status for transferID once;
// it does not wait for the transfer to settle.
func (c *Client) ConfirmTransfer(ctx context.Context, transferID string) (*TransferResponse, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/transfers/"+transferID, nil)
	if err != nil {
		return nil, err
	}
	var out TransferResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errs.Wrap(errs.KindInternal, errs.CodeInternal, "decode transfer status", err)
	}
	return &out, nil
}

// GetPoolBalance fetches wallet's relayer-pool balance, optionally scoped to
// token. Returns (nil, nil) if the relayer has no record of the wallet.
func (c *Client) GetPoolBalance(ctx context.Context, wallet, token string) (*Balance, error) {
	path := "/v1/balance?wallet=" + wallet
	if token != "" {
		path += "&token=" + token
	}
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var out Balance
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errs.Wrap(errs.KindInternal, errs.CodeInternal, "decode pool balance", err)
	}
	return &out, nil
}

// HasEnoughBalance reports whether wallet's relayer-pool balance for token
// covers amount (smallest units).
func (c *Client) HasEnoughBalance(ctx context.Context, wallet, token string, amount uint64) (bool, error) {
	bal, err := c.GetPoolBalance(ctx, wallet, token)
	if err != nil {
		return false, err
	}
	if bal == nil {
		return false, nil
	}
	return bal.Available >= amount, nil
}
