package operator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	opportunity "github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
	"github.com/fd1az/arbitrage-pipeline/business/risk/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

type fakeGovernor struct {
	state  domain.State
	lastBy string
}

func newFakeGovernor() *fakeGovernor {
	return &fakeGovernor{state: domain.NewState(decimal.NewFromInt(10), map[opportunity.Kind]bool{
		opportunity.KindDirect:   true,
		opportunity.KindMultiHop: true,
	}, time.Unix(1_700_000_000, 0))}
}

func (g *fakeGovernor) Trip(_ context.Context, by, detail string) {
	g.lastBy = by
	g.state.Tripped = true
	g.state.TripReason = domain.TripManual
	g.state.TripDetail = detail
	g.state.TrippedAt = time.Unix(1_700_000_100, 0)
}

func (g *fakeGovernor) Reset(_ context.Context, by string) error {
	if !g.state.Tripped {
		return apperror.New(apperror.CodeInvalidState, apperror.WithContext("breaker is not tripped"))
	}
	g.lastBy = by
	g.state.Tripped = false
	g.state.TripReason = ""
	g.state.TripDetail = ""
	return nil
}

func (g *fakeGovernor) SetStrategyEnabled(_ context.Context, kind opportunity.Kind, enabled bool) {
	g.state.Strategies[kind] = enabled
}

func (g *fakeGovernor) State() domain.State { return g.state.Clone() }

func serve(t *testing.T, g *fakeGovernor) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(g, logger.New(io.Discard, logger.LevelInfo, "test", nil)))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string) (int, stateView) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(OperatorHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var v stateView
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode, v
}

func TestHandler_PauseThenReset(t *testing.T) {
	g := newFakeGovernor()
	srv := serve(t, g)

	code, v := do(t, http.MethodPost, srv.URL+"/risk/pause?reason=maintenance")
	if code != http.StatusOK || !v.Tripped || v.TripReason != string(domain.TripManual) || v.TripDetail != "maintenance" {
		t.Fatalf("pause: code=%d view=%+v", code, v)
	}
	if v.TrippedAt == nil || g.lastBy != "alice" {
		t.Errorf("tripped_at = %v, by = %q", v.TrippedAt, g.lastBy)
	}

	code, v = do(t, http.MethodPost, srv.URL+"/risk/reset")
	if code != http.StatusOK || v.Tripped {
		t.Fatalf("reset: code=%d view=%+v", code, v)
	}

	if code, _ := do(t, http.MethodPost, srv.URL+"/risk/reset"); code != http.StatusConflict {
		t.Errorf("second reset: code = %d, want 409", code)
	}
}

func TestHandler_Strategy(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantCode int
		wantOn   bool
	}{
		{"disable", "/risk/strategy/multi-hop?enabled=false", http.StatusOK, false},
		{"enable", "/risk/strategy/multi-hop?enabled=true", http.StatusOK, true},
		{"unknown kind", "/risk/strategy/sandwich?enabled=true", http.StatusNotFound, true},
		{"missing flag", "/risk/strategy/multi-hop", http.StatusBadRequest, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newFakeGovernor()
			srv := serve(t, g)

			code, _ := do(t, http.MethodPost, srv.URL+tt.path)
			if code != tt.wantCode {
				t.Fatalf("code = %d, want %d", code, tt.wantCode)
			}
			if got := g.State().StrategyEnabled(opportunity.KindMultiHop); got != tt.wantOn {
				t.Errorf("multi-hop enabled = %v, want %v", got, tt.wantOn)
			}
		})
	}
}

func TestHandler_StateAndMethods(t *testing.T) {
	srv := serve(t, newFakeGovernor())

	code, v := do(t, http.MethodGet, srv.URL+"/risk/state")
	if code != http.StatusOK || v.Balance != "10" || v.Tripped {
		t.Fatalf("state: code=%d view=%+v", code, v)
	}
	// Kinds without a flag are enabled.
	if !v.Strategies["direct"] || !v.Strategies["concentrated-liquidity"] || len(v.Strategies) != len(opportunity.Kinds) {
		t.Errorf("strategies = %v", v.Strategies)
	}

	if code, _ := do(t, http.MethodGet, srv.URL+"/risk/reset"); code != http.StatusMethodNotAllowed {
		t.Errorf("GET /risk/reset: code = %d, want 405", code)
	}
}
