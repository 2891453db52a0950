package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrTransient marks failures worth retrying: transport errors, 5xx, 429, open breaker.
	ErrTransient = errors.New("bridge api unavailable")
	// ErrRejected marks requests the API refused on their merits.
	ErrRejected = errors.New("bridge api rejected request")
)

// Config configures the 1Click client
type Config struct {
	JWTToken string
	BaseURL  string
	QuoteTTL time.Duration

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// OneClickClient wraps the 1Click SDK behind a circuit breaker
type OneClickClient struct {
	client   *oneclick.APIClient
	token    string
	quoteTTL time.Duration
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	now      func() time.Time
}

// NewOneClickClient creates a new 1Click API client
func NewOneClickClient(cfg Config, logger *zap.Logger) *OneClickClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = DefaultQuoteTTL
	}

	config := oneclick.NewConfiguration()
	if cfg.BaseURL != "" {
		config.Servers = oneclick.ServerConfigurations{{URL: cfg.BaseURL}}
	}

	logger = logger.Named("oneclick")
	return &OneClickClient{
		client:   oneclick.NewAPIClient(config),
		token:    cfg.JWTToken,
		quoteTTL: cfg.QuoteTTL,
		breaker:  newBreaker("oneclick", cfg.BreakerFailures, cfg.BreakerTimeout, logger),
		logger:   logger,
		now:      time.Now,
	}
}

func newBreaker(name string, failures uint32, timeout time.Duration, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
		// a rejected request says nothing about the API's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
	})
}

func (c *OneClickClient) authContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oneclick.ContextAccessToken, c.token)
}

// execute runs one API call through the breaker and classifies its failure
func (c *OneClickClient) execute(op string, call func() (*http.Response, error)) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		httpResp, err := call()
		if httpResp != nil && httpResp.Body != nil {
			defer httpResp.Body.Close()
		}
		return nil, classify(op, httpResp, err)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
	}
	return err
}

// classify maps an SDK result onto ErrTransient or ErrRejected
func classify(op string, httpResp *http.Response, err error) error {
	if httpResp == nil {
		if err == nil {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
	}

	code := httpResp.StatusCode
	if err == nil && code >= 200 && code < 300 {
		return nil
	}

	msg := apiMessage(httpResp)
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: %s (status %d): %s", ErrTransient, op, code, msg)
	case code >= 400:
		return fmt.Errorf("%w: %s (status %d): %s", ErrRejected, op, code, msg)
	case err != nil:
		// 2xx body the SDK could not decode
		return fmt.Errorf("%w: %s: %v", ErrMalformedQuote, op, err)
	default:
		return fmt.Errorf("%w: %s: unexpected status %d", ErrTransient, op, code)
	}
}

// apiMessage extracts the error message from a failed API response body
func apiMessage(httpResp *http.Response) string {
	if httpResp.Body == nil {
		return http.StatusText(httpResp.StatusCode)
	}
	bodyBytes, err := io.ReadAll(io.LimitReader(httpResp.Body, 64<<10))
	if err != nil || len(bodyBytes) == 0 {
		return http.StatusText(httpResp.StatusCode)
	}

	var errorResp map[string]interface{}
	if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil {
		if message, ok := errorResp["message"].(string); ok {
			return message
		}
		if errs, ok := errorResp["errors"]; ok {
			return fmt.Sprintf("%v", errs)
		}
	}
	return strings.TrimSpace(string(bodyBytes))
}

// GetSupportedTokens retrieves all supported tokens
func (c *OneClickClient) GetSupportedTokens(ctx context.Context) ([]oneclick.TokenResponse, error) {
	var tokens []oneclick.TokenResponse
	err := c.execute("get tokens", func() (*http.Response, error) {
		resp, httpResp, err := c.client.OneClickAPI.GetTokens(c.authContext(ctx)).Execute()
		tokens = resp
		return httpResp, err
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// FindTokenOnChain searches for a token by symbol on a specific chain
func (c *OneClickClient) FindTokenOnChain(ctx context.Context, symbol, chain string) (*oneclick.TokenResponse, error) {
	tokens, err := c.GetSupportedTokens(ctx)
	if err != nil {
		return nil, err
	}

	symbol = strings.ToUpper(symbol)
	chain = strings.ToLower(chain)

	for _, token := range tokens {
		if strings.ToUpper(token.GetSymbol()) == symbol &&
			strings.ToLower(token.GetBlockchain()) == chain {
			return &token, nil
		}
	}

	return nil, fmt.Errorf("%w: token '%s' not found on chain '%s'", ErrRejected, symbol, chain)
}

// GetQuote requests a quote. Non-dry quotes reserve a deposit address.
func (c *OneClickClient) GetQuote(ctx context.Context, params QuoteParams) (*Quote, error) {
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	refundTo := params.RefundTo
	if refundTo == "" {
		refundTo = params.Recipient
	}
	deadline := params.Deadline
	if deadline.IsZero() {
		deadline = c.now().Add(24 * time.Hour)
	}

	quoteReq := oneclick.NewQuoteRequest(
		params.Dry,              // dry
		"EXACT_INPUT",           // swapType
		100,                     // slippageTolerance (1%)
		params.OriginAsset,      // originAsset
		"ORIGIN_CHAIN",          // depositType
		params.DestinationAsset, // destinationAsset
		params.Amount.String(),  // amount in smallest unit
		refundTo,                // refundTo
		"ORIGIN_CHAIN",          // refundType
		params.Recipient,        // recipient
		"DESTINATION_CHAIN",     // recipientType
		deadline,                // deadline
	)

	var resp *oneclick.QuoteResponse
	err := c.execute("get quote", func() (*http.Response, error) {
		r, httpResp, err := c.client.OneClickAPI.GetQuote(c.authContext(ctx)).QuoteRequest(*quoteReq).Execute()
		resp = r
		return httpResp, err
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty quote response", ErrMalformedQuote)
	}

	details := resp.GetQuote()
	quote, err := newQuote(quoteFields{
		DepositAddress:     details.GetDepositAddress(),
		DepositMemo:        details.GetDepositMemo(),
		AmountIn:           details.GetAmountIn(),
		AmountOut:          details.GetAmountOut(),
		AmountInFormatted:  details.GetAmountInFormatted(),
		AmountOutFormatted: details.GetAmountOutFormatted(),
		TimeEstimate:       float64(details.GetTimeEstimate()),
	}, params, deadline, c.now(), c.quoteTTL)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("quote received",
		zap.String("deposit_address", quote.DepositAddress),
		zap.String("amount_in", quote.AmountIn.String()),
		zap.String("amount_out", quote.AmountOut.String()),
		zap.Bool("dry", params.Dry))
	return quote, nil
}

// quoteFields are the raw strings read off a provider quote
type quoteFields struct {
	DepositAddress     string
	DepositMemo        string
	AmountIn           string
	AmountOut          string
	AmountInFormatted  string
	AmountOutFormatted string
	TimeEstimate       float64
}

func newQuote(f quoteFields, params QuoteParams, deadline, fetchedAt time.Time, ttl time.Duration) (*Quote, error) {
	amountIn, err := parseAmount(f.AmountIn)
	if err != nil {
		return nil, err
	}
	amountOut, err := parseAmount(f.AmountOut)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		RequestID:          f.DepositAddress,
		DepositAddress:     f.DepositAddress,
		DepositMemo:        f.DepositMemo,
		OriginAsset:        params.OriginAsset,
		DestinationAsset:   params.DestinationAsset,
		AmountIn:           amountIn,
		AmountOut:          amountOut,
		AmountInFormatted:  f.AmountInFormatted,
		AmountOutFormatted: f.AmountOutFormatted,
		TimeEstimate:       f.TimeEstimate,
		Deadline:           deadline,
		FetchedAt:          fetchedAt,
		TTL:                ttl,
	}

	// dry quotes carry no deposit address, so only priced fields are checked
	if params.Dry {
		if q.AmountOut.Sign() <= 0 {
			return nil, fmt.Errorf("%w: amount out must be positive", ErrMalformedQuote)
		}
		return q, nil
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// Status checks the execution status of a quoted request
func (c *OneClickClient) Status(ctx context.Context, requestID string) (*StatusReport, error) {
	var resp *oneclick.GetExecutionStatusResponse
	err := c.execute("get status", func() (*http.Response, error) {
		r, httpResp, err := c.client.OneClickAPI.GetExecutionStatus(c.authContext(ctx)).DepositAddress(requestID).Execute()
		resp = r
		return httpResp, err
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: get status: empty response", ErrTransient)
	}

	raw := resp.GetStatus()
	report := &StatusReport{
		Status:    mapStatus(raw),
		Raw:       raw,
		UpdatedAt: resp.GetUpdatedAt(),
	}

	swapDetails := resp.GetSwapDetails()
	if swapDetails.HasAmountOutFormatted() {
		report.AmountOutFormatted = swapDetails.GetAmountOutFormatted()
	}
	for _, tx := range swapDetails.GetDestinationChainTxHashes() {
		if hash := tx.GetHash(); hash != "" {
			report.DestinationTxHashes = append(report.DestinationTxHashes, hash)
		}
	}
	return report, nil
}

// SubmitDeposit tells the provider which transaction funded the deposit address
func (c *OneClickClient) SubmitDeposit(ctx context.Context, requestID, txHash string) error {
	req := &oneclick.SubmitDepositTxRequest{}
	req.SetTxHash(txHash)
	req.SetDepositAddress(requestID)

	return c.execute("submit deposit", func() (*http.Response, error) {
		_, httpResp, err := c.client.OneClickAPI.SubmitDepositTx(c.authContext(ctx)).SubmitDepositTxRequest(*req).Execute()
		return httpResp, err
	})
}
