package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/holiman/uint256"
	"github.com/xtrntr/auctionhouse/internal/auction"
	"github.com/xtrntr/auctionhouse/internal/auth"
	"github.com/xtrntr/auctionhouse/internal/db"
	"github.com/xtrntr/auctionhouse/internal/service"
)

type ctxKey int

const callerKey ctxKey = iota

// CallerFrom returns the authenticated caller stored by JWTAuthMiddleware.
func CallerFrom(ctx context.Context) auction.Identity {
	id, _ := ctx.Value(callerKey).(auction.Identity)
	return id
}

// WithCaller returns ctx carrying caller as the authenticated identity.
func WithCaller(ctx context.Context, caller auction.Identity) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Service     *service.Service
	AuthService *auth.AuthService
	Logger      *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(svc *service.Service, authService *auth.AuthService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{Service: svc, AuthService: authService, Logger: logger}
}

// Amount is a non-negative integer accepted as a JSON string or number.
type Amount struct {
	uint256.Int
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	s := strings.Trim(string(data), `"`)
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	a.Int = *v
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeResult maps an operation outcome onto the response contract: plain
// rejections are 200, authorization rejections 403, failed deposits 402 and
// custody faults 500. The body is the Result in every case.
func (h *Handler) writeResult(w http.ResponseWriter, res service.Result, err error) {
	status := http.StatusOK
	switch {
	case err == nil:
	case auction.KindOf(err) == auction.KindAuthorization:
		status = http.StatusForbidden
	case auction.IsRejection(err):
	case errors.Is(err, service.ErrPayment):
		status = http.StatusPaymentRequired
	default:
		h.Logger.Error("operation failed", "error", err)
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrReservedName):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.Logger.Info("registration failed", "username", req.Username, "error", err)
			writeError(w, http.StatusConflict, "Failed to register user")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
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

		username, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), auction.Identity(username))))
	})
}

// StartAuction deposits the asset and opens the auction
func (h *Handler) StartAuction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenID    string  `json:"token_id"`
		Nonce      uint64  `json:"nonce"`
		Amount     *uint64 `json:"amount"`
		MinPrice   Amount  `json:"min_price"`
		Expiration uint64  `json:"expiration"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TokenID == "" {
		writeError(w, http.StatusBadRequest, "token_id required")
		return
	}
	units := uint64(1)
	if req.Amount != nil {
		units = *req.Amount
	}

	res, err := h.Service.Start(r.Context(), CallerFrom(r.Context()), service.StartRequest{
		Asset:      auction.Asset{TokenID: req.TokenID, Nonce: req.Nonce},
		Amount:     units,
		MinPrice:   &req.MinPrice.Int,
		Expiration: req.Expiration,
	})
	h.writeResult(w, res, err)
}

// PlaceBid locks the posted amount as the caller's bid
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount *Amount `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount required")
		return
	}

	res, err := h.Service.Bid(r.Context(), CallerFrom(r.Context()), &req.Amount.Int)
	h.writeResult(w, res, err)
}

// Unbid withdraws the caller's bid
func (h *Handler) Unbid(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Unbid(r.Context(), CallerFrom(r.Context()))
	h.writeResult(w, res, err)
}

// CancelAuction closes the auction without a sale
func (h *Handler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Cancel(r.Context(), CallerFrom(r.Context()))
	h.writeResult(w, res, err)
}

// AcceptAuction settles the auction to the highest bidder
func (h *Handler) AcceptAuction(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Accept(r.Context(), CallerFrom(r.Context()))
	h.writeResult(w, res, err)
}

// GetAuction returns the auction status
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.Auction(r.Context())
	if err != nil {
		h.Logger.Error("failed to load auction", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve auction")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetBids returns the bid registry
func (h *Handler) GetBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.Service.Bids(r.Context())
	if err != nil {
		h.Logger.Error("failed to load bids", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve bids")
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

// GetClock returns the clock provider's time
func (h *Handler) GetClock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"now": h.Service.Now()})
}

// GetAccount returns the caller's balance and holdings
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Service.Account(r.Context(), string(CallerFrom(r.Context())))
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.Logger.Error("failed to load account", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve account")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// GetTransfers returns the custody movements involving the caller
func (h *Handler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.Service.Transfers(r.Context(), string(CallerFrom(r.Context())))
	if err != nil {
		h.Logger.Error("failed to load transfers", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve transfers")
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}
