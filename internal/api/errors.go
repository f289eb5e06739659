package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fundboard/fund-engine/internal/fund"
	"github.com/fundboard/fund-engine/internal/settlement"
)

// Severity tells the dashboard how loudly to surface a failure.
const (
	SeverityError     = "error"     // the request was rejected; nothing changed
	SeverityTransient = "transient" // nothing changed; retrying may work
	SeverityCritical  = "critical"  // money or shares may be inconsistent
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error                  string `json:"error"`
	Code                   string `json:"code"`
	Severity               string `json:"severity"`
	RequiresReconciliation bool   `json:"requires_reconciliation"`
}

var errBadRequest = errors.New("api: bad request")

type errorClass struct {
	status   int
	code     string
	severity string
	message  string // replaces err.Error() when set
}

// classify maps domain errors onto HTTP. Partial failures are checked
// first because they also wrap their store-level cause.
func classify(err error) errorClass {
	switch {
	case errors.Is(err, settlement.ErrPartialFailureUnrecovered):
		return errorClass{http.StatusInternalServerError, "partial_failure_unrecovered", SeverityCritical,
			"The operation was only partly applied and could not be reversed. " +
				"Your balance or holdings may be incorrect until support reconciles them. Do not retry."}
	case errors.Is(err, settlement.ErrPartialFailureRecovered):
		return errorClass{http.StatusServiceUnavailable, "partial_failure_recovered", SeverityTransient,
			"The operation failed and was fully reversed. No money or shares moved; please try again."}
	case errors.Is(err, settlement.ErrStoreUnavailable):
		return errorClass{http.StatusServiceUnavailable, "store_unavailable", SeverityTransient,
			"The service is temporarily unavailable. Nothing was changed; please try again."}
	case errors.Is(err, settlement.ErrInsufficientFunds):
		return errorClass{http.StatusPaymentRequired, "insufficient_funds", SeverityError, "Insufficient funds in wallet."}
	case errors.Is(err, settlement.ErrInvalidAmount):
		return errorClass{http.StatusUnprocessableEntity, "invalid_amount", SeverityError, ""}
	case errors.Is(err, settlement.ErrInvalidPrice):
		return errorClass{http.StatusUnprocessableEntity, "invalid_price", SeverityError, ""}
	case errors.Is(err, settlement.ErrRedemptionUnavailable):
		return errorClass{http.StatusConflict, "redemption_unavailable", SeverityError,
			"This fund is not currently buying back shares."}
	case errors.Is(err, settlement.ErrFundInactive):
		return errorClass{http.StatusConflict, "fund_inactive", SeverityError, "This fund is closed to new investment."}
	case errors.Is(err, fund.ErrFundHasPositions):
		return errorClass{http.StatusConflict, "fund_has_positions", SeverityError, ""}
	case errors.Is(err, settlement.ErrNotFound), errors.Is(err, fund.ErrNotFound):
		return errorClass{http.StatusNotFound, "not_found", SeverityError, ""}
	case errors.Is(err, fund.ErrInvalidFund), errors.Is(err, fund.ErrInvalidFilter), errors.Is(err, errBadRequest):
		return errorClass{http.StatusBadRequest, "invalid_request", SeverityError, ""}
	default:
		return errorClass{http.StatusInternalServerError, "internal", SeverityError, "Internal error."}
	}
}

// writeError writes a JSON error response for err.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	c := classify(err)
	msg := c.message
	if msg == "" {
		msg = err.Error()
	}

	if c.status >= http.StatusInternalServerError {
		level := slog.LevelWarn
		if c.severity == SeverityCritical || c.code == "internal" {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", c.code,
			"error", err,
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(c.status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:                  msg,
		Code:                   c.code,
		Severity:               c.severity,
		RequiresReconciliation: settlement.RequiresReconciliation(err),
	})
}
