package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pizzaRun/internal/db"
	"pizzaRun/internal/metrics"
	"pizzaRun/internal/testutil"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) Check(ctx context.Context) error { return f(ctx) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHealth(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "health")

	tests := []struct {
		name   string
		checks map[string]Checker
		code   int
		want   map[string]string
	}{
		{
			name:   "database reachable",
			checks: map[string]Checker{"sqlite": db.Pinger{DB: d}},
			code:   http.StatusOK,
			want:   map[string]string{"sqlite": "ok"},
		},
		{
			name: "one dependency down",
			checks: map[string]Checker{
				"sqlite": db.Pinger{DB: d},
				"broken": checkFunc(func(context.Context) error { return errors.New("down") }),
			},
			code: http.StatusServiceUnavailable,
			want: map[string]string{"sqlite": "ok", "broken": "error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(Routes(quietLogger(), tt.checks, nil))
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/healthz")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)

			var body map[string]struct {
				Status string `json:"status"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			got := map[string]string{}
			for k, v := range body {
				got[k] = v.Status
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.OrderGenerated(true)

	srv := httptest.NewServer(Routes(quietLogger(), nil, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `pizzarun_generator_orders_total{vip="true"} 1`), string(body))
}
