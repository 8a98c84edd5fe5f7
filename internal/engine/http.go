package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/auth"
	"github.com/predyx/market-engine/internal/ledger"
	"github.com/predyx/market-engine/internal/market"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/pricing"
	"github.com/predyx/market-engine/internal/store"
)

// --- Request/Response types ---

// PlaceTradeRequest is the JSON body for POST /trades.
type PlaceTradeRequest struct {
	EventID  string          `json:"event_id"`
	OptionID string          `json:"option_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// SettleRequest is the JSON body for POST /admin/events/{eventID}/settle.
type SettleRequest struct {
	WinningOptionID string `json:"winning_option_id"`
}

// CreateEventRequest is the JSON body for POST /admin/events.
type CreateEventRequest struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Category    string               `json:"category"`
	EndTime     time.Time            `json:"end_time"`
	Options     []market.OptionInput `json:"options"`
}

// CreateUserRequest is the JSON body for POST /admin/users.
type CreateUserRequest struct {
	Username string          `json:"username"`
	Balance  decimal.Decimal `json:"balance"`
	Role     string          `json:"role"`
}

// UserStatusRequest is the JSON body for PUT /admin/users/{userID}/status.
type UserStatusRequest struct {
	Active bool `json:"active"`
}

// CancelEventResponse is returned from POST /admin/events/{eventID}/cancel.
type CancelEventResponse struct {
	EventID       string `json:"event_id"`
	RefundedCount int    `json:"refunded_count"`
}

// --- HTTP handlers ---

// HandlePlaceTrade handles POST /api/v1/trades.
func (s *Service) HandlePlaceTrade(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req PlaceTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.EventID == "" || req.OptionID == "" {
		writeError(w, "event_id and option_id are required", http.StatusBadRequest)
		return
	}

	trade, err := s.PlaceTrade(r.Context(), id.UserID, req.EventID, req.OptionID, req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, trade)
}

// HandleCancelTrade handles POST /api/v1/trades/{tradeID}/cancel.
func (s *Service) HandleCancelTrade(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	tradeID := chi.URLParam(r, "tradeID")

	trade, err := s.CancelTrade(r.Context(), tradeID, id.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trade)
}

// HandleGetTrade handles GET /api/v1/trades/{tradeID}.
func (s *Service) HandleGetTrade(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	tradeID := chi.URLParam(r, "tradeID")

	trade, err := s.GetTrade(r.Context(), tradeID, id.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trade)
}

// HandleMyTrades handles GET /api/v1/my-trades.
func (s *Service) HandleMyTrades(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	trades, err := s.ListUserTrades(r.Context(), id.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	writeJSON(w, http.StatusOK, trades)
}

// HandleGetMarket handles GET /api/v1/events/{eventID}.
func (s *Service) HandleGetMarket(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	e, err := s.market.Get(r.Context(), eventID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// HandleListEvents handles GET /api/v1/events, optionally filtered by
// ?status=<status>.
func (s *Service) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.market.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// HandleCreateEvent handles POST /api/v1/admin/events.
func (s *Service) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		writeError(w, "title is required", http.StatusBadRequest)
		return
	}

	e, err := s.market.CreateEvent(r.Context(), req.Title, req.Description, req.Category, req.EndTime, req.Options)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, e)
}

// HandleSettleEvent handles POST /api/v1/admin/events/{eventID}/settle.
func (s *Service) HandleSettleEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.WinningOptionID == "" {
		writeError(w, "winning_option_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.SettleEvent(r.Context(), eventID, req.WinningOptionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleCancelEvent handles POST /api/v1/admin/events/{eventID}/cancel.
func (s *Service) HandleCancelEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	refunded, err := s.CancelEvent(r.Context(), eventID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CancelEventResponse{
		EventID:       eventID,
		RefundedCount: refunded,
	})
}

// HandleCreateUser handles POST /api/v1/admin/users.
func (s *Service) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}
	if req.Balance.IsNegative() {
		writeError(w, "balance must not be negative", http.StatusBadRequest)
		return
	}
	role := req.Role
	if role == "" {
		role = model.RoleUser
	}

	u := &model.User{
		ID:        uuid.New().String(),
		Username:  req.Username,
		Balance:   req.Balance,
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

// HandleUserStatus handles PUT /api/v1/admin/users/{userID}/status.
func (s *Service) HandleUserStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req UserStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.SetUserActive(r.Context(), userID, req.Active); err != nil {
		writeEngineError(w, err)
		return
	}

	u, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleStats handles GET /api/v1/admin/stats.
func (s *Service) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError maps domain errors to HTTP statuses. Validation and
// business-rule rejections carry their reason; storage and concurrency
// failures surface as a generic retry signal.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidOption),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, market.ErrTooFewOptions),
		errors.Is(err, market.ErrEndTimeInPast),
		errors.Is(err, market.ErrOptionNotFound),
		errors.Is(err, pricing.ErrInvalidProbability):
		writeError(w, err.Error(), http.StatusBadRequest)

	case errors.Is(err, store.ErrEventNotFound),
		errors.Is(err, store.ErrTradeNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, ledger.ErrUserNotFound):
		writeError(w, err.Error(), http.StatusNotFound)

	case errors.Is(err, ErrEventNotTradeable),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrAlreadySettled),
		errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, ErrUserInactive),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, store.ErrDuplicate):
		writeError(w, err.Error(), http.StatusConflict)

	case errors.Is(err, ErrSettlementIncomplete):
		writeError(w, "settlement incomplete, please retry", http.StatusServiceUnavailable)

	default:
		writeError(w, "internal error, please try again", http.StatusInternalServerError)
	}
}
