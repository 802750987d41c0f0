package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetperm/pkg/contextkeys"
)

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Debug("hidden")
	logger.WithOrganization("org-1").WithError(errors.New("boom")).Warnf("rule %d skipped", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "debug is below the configured level")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "rule 7 skipped", entry["msg"])
	assert.Equal(t, "org-1", entry["organization_id"])
	assert.Equal(t, "boom", entry["error"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"", InfoLevel, false},
		{"WARNING", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewLogger(DebugLevel, &buf))
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithOrganizationID(ctx, "org-1")
	ctx = contextkeys.WithActor(ctx, "u1")

	FromContext(ctx).Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "org-1", entry["organization_id"])
	assert.Equal(t, "u1", entry["actor"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAuthorize("data", true, time.Millisecond)
		m.IncAuditWriteFailure()
		m.IncAuditDropped()
		m.IncCacheHit("l1")
		m.IncCacheMiss()
		m.IncCacheInvalidation()
		m.IncRuleMutation("grant", "field_permission", nil)
		m.SetInheritanceCycles("org-1", 2)
		m.IncAuthorizePanic()
	})
}

func TestMetrics_Recording(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ObserveAuthorize("data", true, time.Millisecond)
	m.ObserveAuthorize("data", false, time.Millisecond)
	m.ObserveAuthorize("field", false, time.Millisecond)
	m.IncRuleMutation("revoke", "data_permission", errors.New("nope"))
	m.SetInheritanceCycles("org-1", 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthorizeTotal.WithLabelValues("allow", "data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthorizeTotal.WithLabelValues("deny", "field")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleMutationsTotal.WithLabelValues("revoke", "data_permission", "failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InheritanceCyclesCurrent.WithLabelValues("org-1")))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/v1/field-permissions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods("DELETE")
	router.Handle("/metrics", MetricsHandler(registry))

	for _, id := range []string{"1", "2", "3"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("DELETE", "/v1/field-permissions/"+id, nil))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("DELETE", "/v1/field-permissions/{id}", "204")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "assetperm_http_requests_total")
}

func TestHealthChecker(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	checker := NewHealthChecker("test", db, rdb)
	assert.Equal(t, []string{"database", "redis"}, checker.Names())

	t.Run("healthy", func(t *testing.T) {
		mock.ExpectPing()
		rec := httptest.NewRecorder()
		checker.Readiness(rec, httptest.NewRequest("GET", "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		var status HealthStatus
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
		assert.Equal(t, StatusHealthy, status.Status)
		assert.Equal(t, "test", status.Version)
	})

	t.Run("redis down degrades", func(t *testing.T) {
		mock.ExpectPing()
		mr.SetError("LOADING")
		defer mr.SetError("")

		status := checker.Check(context.Background())
		assert.Equal(t, StatusDegraded, status.Status)
		assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
	})

	t.Run("database down is unhealthy", func(t *testing.T) {
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		rec := httptest.NewRecorder()
		checker.Readiness(rec, httptest.NewRequest("GET", "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("liveness ignores dependencies", func(t *testing.T) {
		rec := httptest.NewRecorder()
		checker.Liveness(rec, httptest.NewRequest("GET", "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverToError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)
	called := false

	run := func() (err error) {
		defer RecoverToError(&err, logger, "test", func() { called = true })
		panic("kaboom")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.True(t, called)
	assert.Contains(t, buf.String(), "PANIC recovered")

	assert.Nil(t, PanicError(nil))
	inner := errors.New("inner")
	assert.ErrorIs(t, PanicError(inner), inner)
}

func TestRecoverPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer RecoverPanic(NopLogger(), "test")
		panic("ignored")
	})
}

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	var order []string
	sm.Register("database", func(ctx context.Context) error {
		order = append(order, "database")
		return nil
	})
	sm.Register("audit", func(ctx context.Context) error {
		order = append(order, "audit")
		return errors.New("flush failed")
	})
	sm.Register("cache", func(ctx context.Context) error {
		order = append(order, "cache")
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit: flush failed")
	assert.Equal(t, []string{"cache", "audit", "database"}, order)
}

func TestShutdownManager_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	sm := NewShutdownManager(NopLogger(), srv.Config, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, sm.WaitForSignal(ctx))
}

func TestOTel_DisabledIsNoop(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{}, NopLogger())
	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, providers.Shutdown(context.Background()))

	_, err = InitOTel(context.Background(), OTelConfig{Enabled: true}, NopLogger())
	assert.Error(t, err, "endpoint is required")

	ctx, span := StartSpan(context.Background(), "noop")
	logger := LoggerWithTrace(ctx, NopLogger())
	assert.NotNil(t, logger)
	EndSpan(span, errors.New("ignored"))
}
