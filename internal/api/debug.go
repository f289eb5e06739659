package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fundboard/fund-engine/internal/store"
)

// FaultRequest arms a store fault. Op is a store operation name such as
// "create_position"; see store.ParseOp.
type FaultRequest struct {
	Op    string `json:"op"`
	Skip  int    `json:"skip"`
	Times int    `json:"times"`
}

// ListFaults handles GET /debug/faults
func (s *Server) ListFaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.faults.Armed())
}

// ArmFault handles POST /debug/faults
func (s *Server) ArmFault(w http.ResponseWriter, r *http.Request) {
	var req FaultRequest
	if !decode(w, r, &req) {
		return
	}
	op, err := store.ParseOp(req.Op)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	if req.Skip < 0 {
		writeError(w, r, fmt.Errorf("%w: skip must not be negative", errBadRequest))
		return
	}

	f := store.Fault{Op: op, Skip: req.Skip, Times: req.Times}
	s.faults.Arm(f)
	slog.Warn("store fault armed",
		"op", string(op),
		"skip", f.Skip,
		"times", f.Times,
		"admin", identity(r).UserID,
	)
	writeJSON(w, http.StatusCreated, f)
}

// ClearFaults handles DELETE /debug/faults
func (s *Server) ClearFaults(w http.ResponseWriter, r *http.Request) {
	s.faults.Clear()
	slog.Warn("store faults cleared", "admin", identity(r).UserID)
	w.WriteHeader(http.StatusNoContent)
}
