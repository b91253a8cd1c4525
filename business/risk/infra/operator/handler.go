// Package operator exposes the risk governor's manual controls over HTTP.
package operator

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	"github.com/fd1az/arbitrage-pipeline/business/risk/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

// OperatorHeader names the caller recorded on breaker events.
const OperatorHeader = "X-Operator"

// Controller is the part of the risk governor an operator may drive.
type Controller interface {
	Trip(ctx context.Context, by, detail string)
	Reset(ctx context.Context, by string) error
	SetStrategyEnabled(ctx context.Context, kind opportunity.Kind, enabled bool)
	State() domain.State
}

type handler struct {
	ctl    Controller
	logger logger.LoggerInterface
}

// NewHandler serves:
//
//	GET  /risk/state
//	POST /risk/pause?reason=...
//	POST /risk/reset
//	POST /risk/strategy/{kind}?enabled=true|false
func NewHandler(ctl Controller, log logger.LoggerInterface) http.Handler {
	h := &handler{ctl: ctl, logger: log}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /risk/state", h.state)
	mux.HandleFunc("POST /risk/pause", h.pause)
	mux.HandleFunc("POST /risk/reset", h.reset)
	mux.HandleFunc("POST /risk/strategy/{kind}", h.strategy)
	return mux
}

func operatorOf(r *http.Request) string {
	if by := r.Header.Get(OperatorHeader); by != "" {
		return by
	}
	return "operator@" + r.RemoteAddr
}

func (h *handler) state(w http.ResponseWriter, r *http.Request) {
	writeState(w, http.StatusOK, h.ctl.State())
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	by := operatorOf(r)
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "operator request"
	}
	h.logger.Warn(r.Context(), "emergency pause requested", "by", by, "reason", reason)
	h.ctl.Trip(r.Context(), by, reason)
	writeState(w, http.StatusOK, h.ctl.State())
}

func (h *handler) reset(w http.ResponseWriter, r *http.Request) {
	by := operatorOf(r)
	if err := h.ctl.Reset(r.Context(), by); err != nil {
		h.logger.Info(r.Context(), "breaker reset refused", append([]any{"by", by}, apperror.LogAttrs(err)...)...)
		writeError(w, http.StatusConflict, err)
		return
	}
	h.logger.Warn(r.Context(), "breaker reset", "by", by)
	writeState(w, http.StatusOK, h.ctl.State())
}

func (h *handler) strategy(w http.ResponseWriter, r *http.Request) {
	kind := opportunity.Kind(r.PathValue("kind"))
	if !slices.Contains(opportunity.Kinds, kind) {
		writeError(w, http.StatusNotFound, apperror.New(apperror.CodeNotFound,
			apperror.WithContext("unknown strategy "+string(kind))))
		return
	}
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeError(w, http.StatusBadRequest, apperror.New(apperror.CodeInvalidInput,
			apperror.WithCause(err),
			apperror.WithContext("enabled must be true or false")))
		return
	}
	h.ctl.SetStrategyEnabled(r.Context(), kind, enabled)
	writeState(w, http.StatusOK, h.ctl.State())
}

type stateView struct {
	Balance    string          `json:"balance"`
	DailyPnL   string          `json:"daily_pnl"`
	Day        string          `json:"day"`
	Strategies map[string]bool `json:"strategies"`
	Tripped    bool            `json:"tripped"`
	TripReason string          `json:"trip_reason,omitempty"`
	TripDetail string          `json:"trip_detail,omitempty"`
	TrippedAt  *time.Time      `json:"tripped_at,omitempty"`
}

func viewOf(s domain.State) stateView {
	v := stateView{
		Balance:    s.Balance.String(),
		DailyPnL:   s.DailyPnL.String(),
		Day:        s.Day,
		Strategies: make(map[string]bool, len(opportunity.Kinds)),
		Tripped:    s.Tripped,
		TripReason: string(s.TripReason),
		TripDetail: s.TripDetail,
	}
	for _, k := range opportunity.Kinds {
		v.Strategies[string(k)] = s.StrategyEnabled(k)
	}
	if s.Tripped {
		at := s.TrippedAt.UTC()
		v.TrippedAt = &at
	}
	return v
}

func writeState(w http.ResponseWriter, code int, s domain.State) {
	writeJSON(w, code, viewOf(s))
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{
		"code":  string(apperror.GetCode(err)),
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
