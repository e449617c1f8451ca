package httpapi

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"

	"github.com/riftresearch/cbbtc-swapd/internal/metrics"
	"github.com/riftresearch/cbbtc-swapd/internal/orderbook"
	"github.com/riftresearch/cbbtc-swapd/internal/store"
	"github.com/riftresearch/cbbtc-swapd/internal/vault"
	"github.com/riftresearch/cbbtc-swapd/pkg/logging"
)

func TestHandleHealthReportsOK(t *testing.T) {
	s := &Server{requestTimeout: time.Second}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if _, ok := body["timestamp"]; !ok {
		t.Error("expected a timestamp field")
	}
}

func TestDisplayAmountFormatsEightDecimals(t *testing.T) {
	amount, _ := new(big.Int).SetString("123456789", 10)
	if got := displayAmount(amount); got != "1.23456789" {
		t.Errorf("expected 1.23456789, got %q", got)
	}
	if got := displayAmount(nil); got != "" {
		t.Errorf("expected empty string for nil amount, got %q", got)
	}
}

type fakeStore struct {
	created   *store.Swap
	byID      map[string]*store.Swap
	createErr error
}

func (f *fakeStore) Create(ctx context.Context, sw *store.Swap) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = sw
	return nil
}

func (f *fakeStore) ByID(ctx context.Context, swapID string) (*store.Swap, error) {
	if sw, ok := f.byID[swapID]; ok {
		return sw, nil
	}
	return nil, store.ErrNotFound
}

type fakeVaultMinter struct{ key *ecdsa.PrivateKey }

func newFakeVaultMinter(t *testing.T) *fakeVaultMinter {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return &fakeVaultMinter{key: key}
}

func (f *fakeVaultMinter) Mint() (salt [vault.SaltLen]byte, derived *vault.Derived, err error) {
	return salt, &vault.Derived{Address: crypto.PubkeyToAddress(f.key.PublicKey), Key: f.key}, nil
}

type fakeQuoteBook struct {
	quote *orderbook.Quote
	err   error
}

func (f *fakeQuoteBook) Quote(ctx context.Context, chainID uint64, sellToken, buyToken string, sellAmount *big.Int, from string) (*orderbook.Quote, error) {
	return f.quote, f.err
}

func newTestServer(st Store, v VaultMinter, book Book) *Server {
	return New(st, v, book, metrics.New(), time.Second, 30*time.Minute, logging.New(&logging.Config{}))
}

func TestHandleQuoteReturnsPricedQuote(t *testing.T) {
	book := &fakeQuoteBook{quote: &orderbook.Quote{QuoteID: "q1", SellAmount: big.NewInt(100000000), BuyAmount: big.NewInt(99000000), FeeAmount: big.NewInt(0), ValidTo: 123}}
	s := newTestServer(&fakeStore{}, newFakeVaultMinter(t), book)

	body := `{"chainId":8453,"buyToken":{"type":"ether"},"sellAmount":"100000000"}`
	req := httptest.NewRequest(http.MethodPost, "/quote", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.handleQuote(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp quoteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SellAmountDisplay != "1" {
		t.Errorf("SellAmountDisplay = %q, want 1", resp.SellAmountDisplay)
	}
	if !resp.CanFill {
		t.Error("expected canFill=true")
	}
}

func TestHandleQuoteRejectsUnsupportedChain(t *testing.T) {
	s := newTestServer(&fakeStore{}, newFakeVaultMinter(t), &fakeQuoteBook{})
	body := `{"chainId":999,"buyToken":{"type":"ether"},"sellAmount":"1"}`
	req := httptest.NewRequest(http.MethodPost, "/quote", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.handleQuote(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCreateSwapPersistsAndReturnsVaultAddress(t *testing.T) {
	st := &fakeStore{}
	s := newTestServer(st, newFakeVaultMinter(t), &fakeQuoteBook{})

	body := `{"chainId":8453,"buyToken":{"type":"ether"},"recipientAddress":"0x00000000000000000000000000000000000000aa","refundAddress":"0x00000000000000000000000000000000000000bb"}`
	req := httptest.NewRequest(http.MethodPost, "/swap", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.handleCreateSwap(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if st.created == nil {
		t.Fatal("expected the swap to be persisted")
	}
	var resp createSwapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.VaultAddress != st.created.VaultAddress {
		t.Errorf("response vault address %q does not match persisted %q", resp.VaultAddress, st.created.VaultAddress)
	}
}

func TestHandleSwapStatusReturns404ForUnknownID(t *testing.T) {
	s := newTestServer(&fakeStore{byID: map[string]*store.Swap{}}, newFakeVaultMinter(t), &fakeQuoteBook{})

	req := httptest.NewRequest(http.MethodGet, "/swap/unknown", nil)
	req = req.WithContext(req.Context())
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "unknown")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	s.handleSwapStatus(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleSwapStatusIncludesDisplayAmountWhenFilled(t *testing.T) {
	amount, _ := new(big.Int).SetString("50000000", 10)
	sw := &store.Swap{SwapID: "swap-1", Status: store.Status("settled"), ActualBuyAmount: amount}
	s := newTestServer(&fakeStore{byID: map[string]*store.Swap{"swap-1": sw}}, newFakeVaultMinter(t), &fakeQuoteBook{})

	req := httptest.NewRequest(http.MethodGet, "/swap/swap-1", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "swap-1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	s.handleSwapStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp swapStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ActualBuyAmountDisp == nil || *resp.ActualBuyAmountDisp != "0.5" {
		t.Errorf("ActualBuyAmountDisp = %v, want 0.5", resp.ActualBuyAmountDisp)
	}
}

func TestParseBigIntRejectsNonDecimal(t *testing.T) {
	if _, ok := parseBigInt("not-a-number"); ok {
		t.Error("expected parseBigInt to reject non-numeric input")
	}
	if _, ok := parseBigInt("0x10"); ok {
		t.Error("expected parseBigInt to reject hex input")
	}
	v, ok := parseBigInt("12345")
	if !ok || v.String() != "12345" {
		t.Errorf("expected 12345, got %v, ok=%v", v, ok)
	}
}
