package httpapi

import (
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/riftresearch/cbbtc-swapd/internal/chain"
	"github.com/riftresearch/cbbtc-swapd/internal/store"
	"github.com/riftresearch/cbbtc-swapd/internal/token"
	"github.com/riftresearch/cbbtc-swapd/pkg/helpers"
)

// cbbtcDecimals is CBBTC's on-chain decimal precision, used only to render
// the human-readable display amounts carried alongside the raw integer
// fields in quote and swap-status responses.
const cbbtcDecimals = 8

// displayAmount formats a base-unit amount as an 8-decimal decimal string,
// falling back to empty when it doesn't fit a uint64 (no realistic CBBTC or
// quote amount does, but the fallback keeps this from ever panicking).
func displayAmount(amount *big.Int) string {
	if amount == nil || !amount.IsUint64() {
		return ""
	}
	return helpers.FormatAmount(amount.Uint64(), cbbtcDecimals)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

type quoteRequest struct {
	ChainID    uint64           `json:"chainId"`
	BuyToken   token.Descriptor `json:"buyToken"`
	SellAmount string           `json:"sellAmount"`
}

type quoteResponse struct {
	QuoteID           string `json:"quoteId"`
	SellAmount        string `json:"sellAmount"`
	SellAmountDisplay string `json:"sellAmountDisplay"`
	BuyAmount         string `json:"buyAmount"`
	FeeAmount         string `json:"feeAmount"`
	ValidTo           int64  `json:"validTo"`
	CanFill           bool   `json:"canFill"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}

	if !chain.IsSupported(req.ChainID) {
		writeError(w, http.StatusBadRequest, "unsupported chain")
		return
	}
	if err := req.BuyToken.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sellAmount, ok := parseBigInt(req.SellAmount)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "sellAmount must be a decimal integer")
		return
	}

	q, err := s.book.Quote(r.Context(), req.ChainID, chain.CBBTC.Hex(), req.BuyToken.Address().Hex(), sellAmount, chain.CBBTC.Hex())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"canFill": false,
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, quoteResponse{
		QuoteID:           q.QuoteID,
		SellAmount:        q.SellAmount.String(),
		SellAmountDisplay: displayAmount(sellAmount),
		BuyAmount:         q.BuyAmount.String(),
		FeeAmount:         q.FeeAmount.String(),
		ValidTo:           q.ValidTo,
		CanFill:           true,
	})
}

type createSwapRequest struct {
	ChainID          uint64           `json:"chainId"`
	BuyToken         token.Descriptor `json:"buyToken"`
	RecipientAddress string           `json:"recipientAddress"`
	RefundAddress    string           `json:"refundAddress"`
}

type createSwapResponse struct {
	SwapID       string `json:"swapId"`
	VaultAddress string `json:"vaultAddress"`
	ExpiresAt    string `json:"expiresAt"`
}

func (s *Server) handleCreateSwap(w http.ResponseWriter, r *http.Request) {
	var req createSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}

	if !chain.IsSupported(req.ChainID) {
		writeError(w, http.StatusBadRequest, "unsupported chain")
		return
	}
	if err := req.BuyToken.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !common.IsHexAddress(req.RecipientAddress) {
		writeError(w, http.StatusBadRequest, "invalid recipientAddress")
		return
	}
	if !common.IsHexAddress(req.RefundAddress) {
		writeError(w, http.StatusBadRequest, "invalid refundAddress")
		return
	}

	salt, derived, err := s.vault.Mint()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mint vault")
		return
	}
	derived.Zero()

	sellToken := token.Descriptor{Kind: token.KindERC20, Address: chain.CBBTC.Hex()}
	sellTokenJSON, err := sellToken.Serialize()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to serialize sell token")
		return
	}
	buyTokenJSON, err := req.BuyToken.Serialize()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to serialize buy token")
		return
	}

	sw := &store.Swap{
		SwapID:           uuid.Must(uuid.NewV7()).String(),
		ChainID:          req.ChainID,
		VaultAddress:     derived.Address.Hex(),
		VaultSalt:        helpers.BytesToHex(salt[:]),
		SellToken:        sellTokenJSON,
		BuyToken:         buyTokenJSON,
		RecipientAddress: common.HexToAddress(req.RecipientAddress).Hex(),
		RefundAddress:    common.HexToAddress(req.RefundAddress).Hex(),
		ExpiresAt:        time.Now().Add(s.swapTTL),
	}

	if err := s.store.Create(r.Context(), sw); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create swap")
		return
	}

	writeJSON(w, http.StatusOK, createSwapResponse{
		SwapID:       sw.SwapID,
		VaultAddress: sw.VaultAddress,
		ExpiresAt:    sw.ExpiresAt.Format(time.RFC3339),
	})
}

type swapStatusResponse struct {
	SwapID              string  `json:"swapId"`
	ChainID             uint64  `json:"chainId"`
	VaultAddress        string  `json:"vaultAddress"`
	Status              string  `json:"status"`
	OrderStatus         *string `json:"orderStatus,omitempty"`
	SettlementTxHash    *string `json:"settlementTxHash,omitempty"`
	ActualBuyAmount     *string `json:"actualBuyAmount,omitempty"`
	ActualBuyAmountDisp *string `json:"actualBuyAmountDisplay,omitempty"`
	FailureReason       *string `json:"failureReason,omitempty"`
	CreatedAt           string  `json:"createdAt"`
	ExpiresAt           string  `json:"expiresAt"`
}

func (s *Server) handleSwapStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sw, err := s.store.ByID(r.Context(), id)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "swap not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load swap")
		return
	}

	resp := swapStatusResponse{
		SwapID:       sw.SwapID,
		ChainID:      sw.ChainID,
		VaultAddress: sw.VaultAddress,
		Status:       string(sw.Status),
		CreatedAt:    sw.CreatedAt.Format(time.RFC3339),
		ExpiresAt:    sw.ExpiresAt.Format(time.RFC3339),
	}
	if sw.OrderStatus.Valid {
		resp.OrderStatus = &sw.OrderStatus.String
	}
	if sw.SettlementTxHash.Valid {
		resp.SettlementTxHash = &sw.SettlementTxHash.String
	}
	if sw.ActualBuyAmount != nil {
		v := sw.ActualBuyAmount.String()
		resp.ActualBuyAmount = &v
		disp := displayAmount(sw.ActualBuyAmount)
		resp.ActualBuyAmountDisp = &disp
	}
	if sw.FailureReason.Valid {
		resp.FailureReason = &sw.FailureReason.String
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseBigInt(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}
