package ordersign

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/riftresearch/cbbtc-swapd/internal/orderbook"
)

func TestSignAndSubmitUploadsAppDataThenSubmitsOrder(t *testing.T) {
	var sawAppDataUpload, sawOrderSubmit bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPut:
			sawAppDataUpload = true
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost:
			if sawAppDataUpload != true {
				t.Error("expected app-data upload before order submission")
			}
			sawOrderSubmit = true
			_ = json.NewEncoder(w).Encode("0xorderuid")
		}
	}))
	defer srv.Close()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	s := New(orderbook.New(srv.URL, nil))
	uid, err := s.SignAndSubmit(context.Background(), Params{
		ChainID:      8453,
		OwnerKey:     key,
		BuyToken:     common.HexToAddress("0xEeeeeEeeeEeEeeeEeEeeeeeEeeeeeeeEeeeeEEeE"),
		Receiver:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
		SellAmount:   big.NewInt(100000),
		BuyAmount:    big.NewInt(99000),
		AppDataHash:  [32]byte{0x01, 0x02},
		AppDataBytes: []byte(`{"version":"1.1.0"}`),
	})
	if err != nil {
		t.Fatalf("SignAndSubmit() error = %v", err)
	}
	if uid != "0xorderuid" {
		t.Errorf("expected order uid 0xorderuid, got %q", uid)
	}
	if !sawAppDataUpload || !sawOrderSubmit {
		t.Error("expected both an app-data upload and an order submission")
	}
}
