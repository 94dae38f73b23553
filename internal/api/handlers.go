package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/xtrntr/tradingplatform/internal/auth"
	"github.com/xtrntr/tradingplatform/internal/ledger"
	"github.com/xtrntr/tradingplatform/internal/logger"
	"github.com/xtrntr/tradingplatform/internal/metrics"
	"github.com/xtrntr/tradingplatform/internal/models"
	"github.com/xtrntr/tradingplatform/internal/platform"
	"github.com/xtrntr/tradingplatform/internal/stream"
)

type ctxKey string

const claimsKey ctxKey = "claims"

const maxEventPage = 500

// Journal persists engine events and snapshots
type Journal interface {
	Record(ctx context.Context, events []models.Envelope, snap platform.Snapshot) error
	GetEvents(ctx context.Context, after uint64, limit int) ([]models.JournalEntry, error)
}

// Broadcaster pushes messages to live subscribers
type Broadcaster interface {
	Broadcast(msg stream.Message)
}

// Handler contains dependencies for HTTP handlers. Journal, Hub and Metrics are optional.
// Admin accounts are provisioned by cmd/seed; Register refuses their addresses.
type Handler struct {
	Engine      *platform.Engine
	AuthService *auth.AuthService
	Admins      auth.AdminSet
	Journal     Journal
	Hub         Broadcaster
	Metrics     *metrics.Metrics
	Log         *logger.Logger
	SignupGrant math.Int

	validate *validator.Validate
}

// NewHandler creates a new handler
func NewHandler(engine *platform.Engine, authService *auth.AuthService, log *logger.Logger) *Handler {
	return &Handler{
		Engine:      engine,
		AuthService: authService,
		Log:         log,
		SignupGrant: math.ZeroInt(),
		validate:    validator.New(),
	}
}

type registerRequest struct {
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required,max=72"`
	Address  string `json:"address" validate:"required,eth_addr"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type referralRequest struct {
	Referral string `json:"referral" validate:"required,eth_addr"`
}

type buyRequest struct {
	TokenAmount string `json:"token_amount" validate:"required,numeric"`
	Value       string `json:"value" validate:"required,numeric"`
}

type sellOrderRequest struct {
	TokenAmount   string `json:"token_amount" validate:"required,numeric"`
	PricePerToken string `json:"price_per_token" validate:"required,numeric"`
}

type withdrawRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`
}

// Register handles user registration and credits the signup grant
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	address := common.HexToAddress(req.Address)
	if h.Admins.IsAdmin(address) {
		h.Log.FromContext(r.Context()).WithField("address", address.Hex()).Warn("Registration of admin address refused")
		writeError(w, http.StatusForbidden, "Address is reserved")
		return
	}
	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password, address)
	if err != nil {
		h.Log.FromContext(r.Context()).WithError(err).Warn("Registration failed")
		writeError(w, http.StatusConflict, "Failed to register user")
		return
	}

	if h.SignupGrant.IsPositive() {
		events, err := h.Engine.Deposit(address, h.SignupGrant)
		h.commit(r.Context(), "deposit", events, err)
		if err != nil {
			h.Log.FromContext(r.Context()).WithError(err).Error("Signup grant failed")
		}
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"address":  user.Address,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		claims, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BecomeReferral lets the caller be named as an upline
func (h *Handler) BecomeReferral(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	events, err := h.Engine.BecomeAReferral(caller)
	h.commit(r.Context(), "become_referral", events, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"address": caller, "is_referral": true})
}

// RegisterReferral binds the caller to an upline
func (h *Handler) RegisterReferral(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req referralRequest
	if !h.decode(w, r, &req) {
		return
	}
	events, err := h.Engine.RegisterAReferral(caller, common.HexToAddress(req.Referral))
	h.commit(r.Context(), "register_referral", events, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// BuyFromSale buys tokens from the current sale batch
func (h *Handler) BuyFromSale(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, value, ok := parseAmounts(w, req.TokenAmount, req.Value)
	if !ok {
		return
	}
	events, err := h.Engine.BuyTokensFromContract(caller, amount, value)
	h.commit(r.Context(), "buy_from_sale", events, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// PlaceSellOrder escrows the caller's tokens behind a new order
func (h *Handler) PlaceSellOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req sellOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, price, ok := parseAmounts(w, req.TokenAmount, req.PricePerToken)
	if !ok {
		return
	}
	order, events, err := h.Engine.CreateSellOrder(caller, amount, price)
	h.commit(r.Context(), "create_sell_order", events, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":  "Order placed",
		"order_id": order.ID,
		"order":    order,
	})
}

// BuyFromOrder fills part of an order
func (h *Handler) BuyFromOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDFrom(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, value, ok := parseAmounts(w, req.TokenAmount, req.Value)
	if !ok {
		return
	}
	events, err := h.Engine.BuyTokensFromOrder(caller, orderID, amount, value)
	h.commit(r.Context(), "buy_from_order", events, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// StartSaleRound closes the trade round
func (h *Handler) StartSaleRound(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start_sale_round", h.Engine.StartSaleRound)
}

// StartTradeRound closes the sale round
func (h *Handler) StartTradeRound(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start_trade_round", h.Engine.StartTradeRound)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(common.Address) ([]models.Envelope, error)) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	events, err := fn(caller)
	h.commit(r.Context(), op, events, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.Log.FromContext(r.Context()).WithField("op", op).WithField("caller", caller.Hex()).Info("Round transition")
	writeJSON(w, http.StatusOK, map[string]interface{}{"round": h.Engine.Round(), "events": events})
}

// Withdraw pays out the caller's coin credit
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	events, err := h.Engine.Withdraw(caller, amount)
	h.commit(r.Context(), "withdraw", events, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// GetRound returns the round read model
func (h *Handler) GetRound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Round())
}

// GetOrders returns the fillable order book, or every order with ?all=true
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		writeJSON(w, http.StatusOK, h.Engine.Orders())
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.OrderBook())
}

// GetOrder returns one order
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDFrom(w, r)
	if !ok {
		return
	}
	order, found := h.Engine.Order(orderID)
	if !found {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetReferral returns the upline of an address
func (h *Handler) GetReferral(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":     addr,
		"referral":    h.Engine.ReferralOf(addr),
		"is_referral": h.Engine.IsReferral(addr),
	})
}

// GetNextPrice evaluates the pricing function for ?price=, defaulting to the current sale price
func (h *Handler) GetNextPrice(w http.ResponseWriter, r *http.Request) {
	prev := h.Engine.Economics().SaleTokenPrice
	if raw := r.URL.Query().Get("price"); raw != "" {
		p, ok := math.NewIntFromString(raw)
		if !ok || !p.IsPositive() {
			writeError(w, http.StatusBadRequest, "price must be a positive integer")
			return
		}
		prev = p
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"price":      prev,
		"next_price": h.Engine.NextRoundPrice(prev),
	})
}

// GetBalances returns token and coin balances of an address
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	tokens, coins := h.Engine.Balances(addr)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": addr,
		"tokens":  tokens,
		"coins":   coins,
	})
}

// GetEvents pages through the journal
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "Event journal disabled")
		return
	}
	after, err := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	if err != nil && r.URL.Query().Get("after") != "" {
		writeError(w, http.StatusBadRequest, "Invalid after")
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > maxEventPage {
		limit = maxEventPage
	}

	entries, err := h.Journal.GetEvents(r.Context(), after, limit)
	if err != nil {
		h.Log.FromContext(r.Context()).WithError(err).Error("Failed to read journal")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// commit observes the outcome of an engine call and, on success, journals and broadcasts its events
func (h *Handler) commit(ctx context.Context, op string, events []models.Envelope, err error) {
	if h.Metrics != nil {
		h.Metrics.RecordOperation(op, err)
	}
	if err != nil {
		h.Log.FromContext(ctx).WithField("op", op).WithError(err).Debug("Operation rejected")
		return
	}
	if h.Metrics != nil {
		h.Metrics.ObserveEvents(events)
		h.Metrics.ObserveRound(h.Engine.Round())
	}
	if h.Journal != nil {
		if err := h.Journal.Record(ctx, events, h.Engine.Snapshot()); err != nil {
			h.Log.FromContext(ctx).WithField("op", op).WithError(err).Error("Failed to journal events")
		}
	}
	if h.Hub != nil && len(events) > 0 {
		h.Hub.Broadcast(stream.Message{Type: "events", Data: events})
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "Invalid field " + verrs[0].Field() + ": " + verrs[0].Tag()
	}
	return "Invalid request"
}

func callerFrom(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	claims, ok := r.Context().Value(claimsKey).(*auth.Claims)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return common.Address{}, false
	}
	return claims.Wallet(), true
}

func orderIDFrom(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	orderID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return 0, false
	}
	return orderID, true
}

func addressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "Invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseAmount(w http.ResponseWriter, raw string) (math.Int, bool) {
	v, ok := math.NewIntFromString(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "Amounts must be integers in base units")
		return math.Int{}, false
	}
	return v, true
}

func parseAmounts(w http.ResponseWriter, a, b string) (math.Int, math.Int, bool) {
	x, ok := parseAmount(w, a)
	if !ok {
		return math.Int{}, math.Int{}, false
	}
	y, ok := parseAmount(w, b)
	if !ok {
		return math.Int{}, math.Int{}, false
	}
	return x, y, true
}

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, platform.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, platform.ErrInsufficientPayment), errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, platform.ErrInvalidAmount), errors.Is(err, platform.ErrInvalidReferral):
		return http.StatusBadRequest
	case errors.Is(err, platform.ErrWrongRound),
		errors.Is(err, platform.ErrRoundNotEnded),
		errors.Is(err, platform.ErrRoundExpiredUnrolled),
		errors.Is(err, platform.ErrInsufficientSupply),
		errors.Is(err, platform.ErrAlreadyReferral),
		errors.Is(err, platform.ErrAlreadySet),
		errors.Is(err, platform.ErrReferralCycle),
		errors.Is(err, platform.ErrOrderNotFillable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, "Internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
