package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"updown-trading-go/internal/notify"
	"updown-trading-go/internal/settlement"
	"updown-trading-go/internal/storage"
	"updown-trading-go/internal/trading"

	"go.uber.org/zap"
)

// OpsHandler holds dependencies for the settler's operational API.
type OpsHandler struct {
	log         *zap.Logger
	service     *trading.Service
	coordinator *settlement.Coordinator
	repo        *storage.Repository
	hub         *notify.Hub
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(log *zap.Logger, service *trading.Service, coordinator *settlement.Coordinator, repo *storage.Repository, hub *notify.Hub) *OpsHandler {
	return &OpsHandler{log: log, service: service, coordinator: coordinator, repo: repo, hub: hub}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// OpenTradeHandler opens a new up/down bet for a user.
func (h *OpsHandler) OpenTradeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req trading.OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trade, err := h.service.OpenTrade(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, trading.ErrInvalidTrade):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, trading.ErrInsufficientBalance):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			h.log.Error("Failed to open trade", zap.Error(err))
			http.Error(w, "failed to open trade", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, trade)
}

type tradeIDRequest struct {
	TradeID uint `json:"trade_id"`
}

// SettleHandler triggers settlement for one trade. Idempotent, intended for
// operator recovery of trades stuck past their end time.
func (h *OpsHandler) SettleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req tradeIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.coordinator.Settle(r.Context(), req.TradeID); err != nil {
		h.log.Error("Manual settle failed", zap.Uint("trade_id", req.TradeID), zap.Error(err))
		http.Error(w, "settlement failed", http.StatusInternalServerError)
		return
	}

	trade, err := h.repo.GetTrade(req.TradeID)
	if err != nil {
		http.Error(w, "trade not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// CancelHandler cancels an active trade and refunds the stake.
func (h *OpsHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req tradeIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Cancel(r.Context(), req.TradeID); err != nil {
		if errors.Is(err, trading.ErrNotActive) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.log.Error("Cancel failed", zap.Uint("trade_id", req.TradeID), zap.Error(err))
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type overrideRequest struct {
	TradeID uint   `json:"trade_id"`
	Result  string `json:"result"`
}

// OverrideHandler sets a predetermined result on an active trade.
func (h *OpsHandler) OverrideHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.SetPredeterminedResult(r.Context(), req.TradeID, req.Result); err != nil {
		switch {
		case errors.Is(err, trading.ErrNotActive):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, trading.ErrInvalidTrade):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.log.Error("Override failed", zap.Uint("trade_id", req.TradeID), zap.Error(err))
			http.Error(w, "override failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"result": req.Result})
}

// TradesHandler lists a user's trades (or the most recent ones overall).
// This is the re-query path clients use to reconcile after a missed event.
func (h *OpsHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	const limit = 100
	if rawID := r.URL.Query().Get("user_id"); rawID != "" {
		userID, err := strconv.ParseUint(rawID, 10, 32)
		if err != nil {
			http.Error(w, "invalid user_id", http.StatusBadRequest)
			return
		}
		trades, err := h.repo.GetTradesByUser(uint(userID), limit)
		if err != nil {
			h.log.Error("Failed to list user trades", zap.Error(err))
			http.Error(w, "failed to list trades", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, trades)
		return
	}

	trades, err := h.repo.GetRecentTrades(limit)
	if err != nil {
		h.log.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// BalanceHandler returns a user's current balance.
func (h *OpsHandler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	user, err := h.repo.GetUser(uint(userID))
	if err != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"balance": user.Balance,
	})
}

// EventsHandler streams a user's settlement events over SSE. Delivery is
// best-effort; clients reconcile by re-querying trade state on reconnect.
func (h *OpsHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch := h.hub.Subscribe(uint(userID))
	defer h.hub.Unsubscribe(uint(userID), ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
