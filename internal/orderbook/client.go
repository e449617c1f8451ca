// Package orderbook is a thin, well-typed wrapper over the external
// settlement orderbook's HTTP API. Requests ride hashicorp/go-retryablehttp
// so transient upstream failures are retried before surfacing to a caller,
// while synchronous callers (the /quote handler) still see the final
// failure directly.
package orderbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/riftresearch/cbbtc-swapd/internal/apperr"
	"github.com/riftresearch/cbbtc-swapd/pkg/logging"
)

// Client talks to one chain-agnostic orderbook deployment; the chain is
// passed per-call since the same orderbook serves multiple chain IDs.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// New builds a Client against baseURL (e.g. "https://api.cow.fi").
func New(baseURL string, log *logging.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	// Once retries are exhausted, hand back the last response instead of a
	// generic "giving up" error, so its upstream message can be surfaced.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if log != nil {
		rc.Logger = retryableLogAdapter{log}
	}
	return &Client{baseURL: baseURL, http: rc}
}

type retryableLogAdapter struct{ log *logging.Logger }

func (a retryableLogAdapter) Printf(format string, args ...interface{}) {
	a.log.Debugf(format, args...)
}

// Quote is the response to a pre-deposit advisory price check.
type Quote struct {
	QuoteID    string
	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int
	ValidTo    int64
}

type quoteWire struct {
	QuoteID    string `json:"quoteId"`
	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
	FeeAmount  string `json:"feeAmount"`
	ValidTo    int64  `json:"validTo"`
}

// OrderStatus is the orderbook-reported lifecycle position of a submitted order.
type OrderStatus string

const (
	OrderPresignaturePending OrderStatus = "PRESIGNATURE_PENDING"
	OrderOpen                OrderStatus = "OPEN"
	OrderFulfilled            OrderStatus = "FULFILLED"
	OrderCancelled            OrderStatus = "CANCELLED"
	OrderExpired              OrderStatus = "EXPIRED"
)

// StatusResult is the orderStatus() response.
type StatusResult struct {
	Status              OrderStatus
	ExecutedBuyAmount   *big.Int
	ExecutedSellAmount  *big.Int
}

// Trade is one settled fill reported by trades().
type Trade struct {
	TxHash      string
	BuyAmount   *big.Int
	SellAmount  *big.Int
	BlockNumber uint64
}

type upstreamErrorBody struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
}

// roundTrip sends one request and returns the raw status and body,
// surfacing only transport-level failures as errors; interpreting the
// status code is left to the caller so UploadAppData can apply its own
// narrower success criteria than do's generic 4xx/5xx handling.
func (c *Client) roundTrip(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, apperr.Upstream("orderbook request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, apperr.Upstream("failed to read orderbook response", err)
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	status, respBody, err := c.roundTrip(ctx, method, path, body)
	if err != nil {
		return err
	}

	if status >= http.StatusBadRequest {
		var e upstreamErrorBody
		msg := string(respBody)
		if json.Unmarshal(respBody, &e) == nil && e.Description != "" {
			msg = e.Description
		}
		return apperr.New(apperr.KindUpstream, msg)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode orderbook response: %w", err)
		}
	}
	return nil
}

// Quote requests an advisory price for selling sellAmount of sellToken into
// buyToken on chain, from the eventual vault address.
func (c *Client) Quote(ctx context.Context, chainID uint64, sellToken, buyToken string, sellAmount *big.Int, from string) (*Quote, error) {
	reqBody := map[string]interface{}{
		"sellToken":  sellToken,
		"buyToken":   buyToken,
		"from":       from,
		"kind":       "sell",
		"sellAmountBeforeFee": sellAmount.String(),
	}
	var wire quoteWire
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/%d/quote", chainID), reqBody, &wire); err != nil {
		return nil, err
	}

	sell, ok := new(big.Int).SetString(wire.SellAmount, 10)
	if !ok {
		return nil, fmt.Errorf("orderbook returned non-numeric sellAmount %q", wire.SellAmount)
	}
	buy, ok := new(big.Int).SetString(wire.BuyAmount, 10)
	if !ok {
		return nil, fmt.Errorf("orderbook returned non-numeric buyAmount %q", wire.BuyAmount)
	}
	fee, ok := new(big.Int).SetString(wire.FeeAmount, 10)
	if !ok {
		fee = big.NewInt(0)
	}

	return &Quote{
		QuoteID:    wire.QuoteID,
		SellAmount: sell,
		BuyAmount:  buy,
		FeeAmount:  fee,
		ValidTo:    wire.ValidTo,
	}, nil
}

// appDataAlreadyExistsType is the orderbook's errorType for re-uploading an
// app-data document that is already registered under the same hash. Only
// this specific upstream error is treated as a successful no-op; any other
// 4xx/5xx must still fail the upload.
const appDataAlreadyExistsType = "DuplicateAppData"

// UploadAppData registers the full app-data document under hash, idempotently.
func (c *Client) UploadAppData(ctx context.Context, chainID uint64, hash string, document json.RawMessage) error {
	body := map[string]interface{}{
		"fullAppData": string(document),
	}
	status, respBody, err := c.roundTrip(ctx, http.MethodPut, fmt.Sprintf("/api/v1/%d/app_data/%s", chainID, hash), body)
	if err != nil {
		return err
	}
	if status < http.StatusBadRequest {
		return nil
	}

	var e upstreamErrorBody
	if json.Unmarshal(respBody, &e) == nil && e.ErrorType == appDataAlreadyExistsType {
		return nil
	}

	msg := string(respBody)
	if e.Description != "" {
		msg = e.Description
	}
	return apperr.New(apperr.KindUpstream, msg)
}

// SignedOrder is everything submit() needs beyond the order fields
// themselves: the signature and its scheme.
type SignedOrder struct {
	Order     map[string]interface{}
	Signature string
	Scheme    string
	From      string
}

// Submit posts a signed order and returns the orderbook-assigned order UID.
func (c *Client) Submit(ctx context.Context, chainID uint64, signed SignedOrder) (string, error) {
	body := make(map[string]interface{}, len(signed.Order)+3)
	for k, v := range signed.Order {
		body[k] = v
	}
	body["signature"] = signed.Signature
	body["signingScheme"] = signed.Scheme
	body["from"] = signed.From

	var uid string
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/%d/orders", chainID), body, &uid); err != nil {
		return "", err
	}
	return uid, nil
}

type orderStatusWire struct {
	Status             string `json:"status"`
	ExecutedBuyAmount  string `json:"executedBuyAmount"`
	ExecutedSellAmount string `json:"executedSellAmount"`
}

// OrderStatusLookup queries the current lifecycle status of a submitted order.
func (c *Client) OrderStatusLookup(ctx context.Context, chainID uint64, uid string) (*StatusResult, error) {
	var wire orderStatusWire
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/%d/orders/%s/status", chainID, uid), nil, &wire); err != nil {
		return nil, err
	}
	result := &StatusResult{Status: OrderStatus(wire.Status)}
	if v, ok := new(big.Int).SetString(wire.ExecutedBuyAmount, 10); ok {
		result.ExecutedBuyAmount = v
	}
	if v, ok := new(big.Int).SetString(wire.ExecutedSellAmount, 10); ok {
		result.ExecutedSellAmount = v
	}
	return result, nil
}

type tradeWire struct {
	TxHash      string `json:"txHash"`
	BuyAmount   string `json:"buyAmount"`
	SellAmount  string `json:"sellAmount"`
	BlockNumber uint64 `json:"blockNumber"`
}

// Trades returns every settled fill for a submitted order.
func (c *Client) Trades(ctx context.Context, chainID uint64, uid string) ([]Trade, error) {
	var wire []tradeWire
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/%d/trades?orderUid=%s", chainID, uid), nil, &wire); err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(wire))
	for _, w := range wire {
		if w.TxHash == "" {
			continue // unsettled trade entries carry no tx hash
		}
		t := Trade{TxHash: w.TxHash, BlockNumber: w.BlockNumber}
		if v, ok := new(big.Int).SetString(w.BuyAmount, 10); ok {
			t.BuyAmount = v
		}
		if v, ok := new(big.Int).SetString(w.SellAmount, 10); ok {
			t.SellAmount = v
		}
		out = append(out, t)
	}
	return out, nil
}
