package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewMetricProvider(t *testing.T) {
	tests := []struct {
		name    string
		opts    []OptionFn
		wantErr error
	}{
		{name: "no readers", wantErr: ErrNoReaders},
		{
			name: "prometheus",
			opts: []OptionFn{
				WithServiceName("test"),
				WithProviderConfig(ProviderCfg{Provider: PrometheusProvider}),
			},
		},
		{
			name: "unknown",
			opts: []OptionFn{WithProviderConfig(ProviderCfg{Provider: "statsd"})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mp, err := NewMetricProvider(context.Background(), tt.opts...)
			switch {
			case tt.name == "unknown":
				if err == nil {
					t.Fatal("unknown provider accepted")
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("NewMetricProvider: %v", err)
				}
				t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
				if otel.GetMeterProvider() != mp {
					t.Error("provider not installed globally")
				}
			}
		})
	}
}

func TestPrometheusServer_ServesMetrics(t *testing.T) {
	srv := NewPrometheusServer(0)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "# HELP") {
		t.Errorf("GET /metrics = %d", rec.Code)
	}
}
