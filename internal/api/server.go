// Package api exposes the fund engine over JSON HTTP and a websocket feed.
// Every handler takes the caller's identity from the verified session token
// and passes the user id explicitly into the domain services.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fundboard/fund-engine/internal/auth"
	"github.com/fundboard/fund-engine/internal/fund"
	"github.com/fundboard/fund-engine/internal/model"
	"github.com/fundboard/fund-engine/internal/portfolio"
	"github.com/fundboard/fund-engine/internal/settlement"
	"github.com/fundboard/fund-engine/internal/store"
)

const maxBodyBytes = 1 << 20

// Server holds the handlers' collaborators.
type Server struct {
	settlement *settlement.Service
	catalog    *fund.Catalog
	portfolio  *portfolio.Service
	verifier   *auth.Verifier
	hub        *WSHub            // optional
	faults     *store.FaultStore // non-nil only when debug tools are enabled
}

// Deps lists the collaborators NewServer wires together.
type Deps struct {
	Settlement *settlement.Service
	Catalog    *fund.Catalog
	Portfolio  *portfolio.Service
	Verifier   *auth.Verifier
	Hub        *WSHub
	Faults     *store.FaultStore
}

func NewServer(d Deps) *Server {
	return &Server{
		settlement: d.Settlement,
		catalog:    d.Catalog,
		portfolio:  d.Portfolio,
		verifier:   d.Verifier,
		hub:        d.Hub,
		faults:     d.Faults,
	}
}

// Mount registers /api/v1 and, when enabled, /debug on r.
func (s *Server) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(s.verifier))

		r.Get("/wallet", s.GetWallet)
		r.Get("/wallet/transactions", s.ListTransactions)
		r.Post("/wallet/deposit", s.Deposit)
		r.Post("/wallet/withdraw", s.Withdraw)

		r.Get("/funds", s.ListFunds)
		r.Get("/funds/{fundID}", s.GetFund)
		r.Post("/funds/{fundID}/buy", s.Buy)
		r.Post("/positions/{positionID}/sell", s.Sell)

		r.Get("/portfolio", s.GetPortfolio)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Post("/funds", s.CreateFund)
			r.Put("/funds/{fundID}/redemption-price", s.SetRedemptionPrice)
			r.Put("/funds/{fundID}/active", s.SetFundActive)
			r.Delete("/funds/{fundID}", s.DeleteFund)
		})

		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}
	})

	if s.faults != nil {
		r.Route("/debug/faults", func(r chi.Router) {
			r.Use(auth.Middleware(s.verifier), auth.RequireAdmin)
			r.Get("/", s.ListFaults)
			r.Post("/", s.ArmFault)
			r.Delete("/", s.ClearFaults)
		})
	}
}

// --- Request/Response types ---

// AmountRequest is the JSON body for deposit, withdraw and buy.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// SellRequest is the JSON body for POST /positions/{positionID}/sell.
type SellRequest struct {
	Shares decimal.Decimal `json:"shares"`
}

// RedemptionPriceRequest sets or, with null, clears a fund's redemption price.
type RedemptionPriceRequest struct {
	RedemptionPrice *decimal.Decimal `json:"redemption_price"`
}

// ActiveRequest is the JSON body for PUT /admin/funds/{fundID}/active.
type ActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

// WalletResponse is the wallet with its balance preformatted for display.
type WalletResponse struct {
	*model.Wallet
	Formatted string `json:"formatted_balance"`
}

type BuyResponse struct {
	*settlement.BuyResult
	Message string `json:"message"`
}

type SellResponse struct {
	*settlement.SellResult
	Message string `json:"message"`
}

type CashResponse struct {
	*settlement.CashResult
	Message string `json:"message"`
}

// --- Wallet ---

// GetWallet handles GET /api/v1/wallet
func (s *Server) GetWallet(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	wallet, err := s.settlement.Wallet(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WalletResponse{Wallet: wallet, Formatted: settlement.FormatCash(wallet.Balance)})
}

// ListTransactions handles GET /api/v1/wallet/transactions?limit=
func (s *Server) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = n
	}

	txns, err := s.settlement.History(r.Context(), identity(r).UserID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

// Deposit handles POST /api/v1/wallet/deposit
func (s *Server) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.settlement.Deposit(r.Context(), identity(r).UserID, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CashResponse{CashResult: res, Message: res.Receipt()})
}

// Withdraw handles POST /api/v1/wallet/withdraw
func (s *Server) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.settlement.Withdraw(r.Context(), identity(r).UserID, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CashResponse{CashResult: res, Message: res.Receipt()})
}

// --- Funds and settlement ---

// ListFunds handles GET /api/v1/funds?status=all|active|inactive
// Investors only ever see active funds.
func (s *Server) ListFunds(w http.ResponseWriter, r *http.Request) {
	filter := model.FundsActive
	if identity(r).IsAdmin() {
		f, err := fund.ParseFilter(r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter = f
	}

	funds, err := s.catalog.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, funds)
}

// GetFund handles GET /api/v1/funds/{fundID}
func (s *Server) GetFund(w http.ResponseWriter, r *http.Request) {
	f, err := s.catalog.Get(r.Context(), chi.URLParam(r, "fundID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Buy handles POST /api/v1/funds/{fundID}/buy
// The price comes from the catalog at execution time, never from the body.
func (s *Server) Buy(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.settlement.Buy(r.Context(), identity(r).UserID, chi.URLParam(r, "fundID"), req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, BuyResponse{BuyResult: res, Message: res.Receipt()})
}

// Sell handles POST /api/v1/positions/{positionID}/sell
func (s *Server) Sell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.settlement.Sell(r.Context(), identity(r).UserID, chi.URLParam(r, "positionID"), req.Shares)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SellResponse{SellResult: res, Message: res.Receipt()})
}

// GetPortfolio handles GET /api/v1/portfolio
func (s *Server) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := s.portfolio.Get(r.Context(), identity(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

// --- Admin ---

// CreateFund handles POST /api/v1/admin/funds
func (s *Server) CreateFund(w http.ResponseWriter, r *http.Request) {
	var draft fund.Draft
	if !decode(w, r, &draft) {
		return
	}
	f, err := s.catalog.Create(r.Context(), identity(r).UserID, draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// SetRedemptionPrice handles PUT /api/v1/admin/funds/{fundID}/redemption-price
func (s *Server) SetRedemptionPrice(w http.ResponseWriter, r *http.Request) {
	var req RedemptionPriceRequest
	if !decode(w, r, &req) {
		return
	}
	f, err := s.catalog.SetRedemptionPrice(r.Context(), chi.URLParam(r, "fundID"), req.RedemptionPrice)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// SetFundActive handles PUT /api/v1/admin/funds/{fundID}/active
func (s *Server) SetFundActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		writeError(w, r, fmt.Errorf("%w: is_active is required", errBadRequest))
		return
	}
	f, err := s.catalog.SetActive(r.Context(), chi.URLParam(r, "fundID"), *req.IsActive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// DeleteFund handles DELETE /api/v1/admin/funds/{fundID}
func (s *Server) DeleteFund(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Delete(r.Context(), chi.URLParam(r, "fundID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid request body", errBadRequest))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
