package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/platinummonkey/assetperm/pkg/contextkeys"
	"github.com/platinummonkey/assetperm/pkg/observability"
	"github.com/platinummonkey/assetperm/pkg/permission"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("field permission 3: %w", permission.ErrNotFound), http.StatusNotFound, "not_found"},
		{permission.ErrUnknownResourceType, http.StatusUnprocessableEntity, "unknown_resource_type"},
		{fmt.Errorf("%w: masked requires mask_rule", permission.ErrValidation), http.StatusBadRequest, "validation_failed"},
		{permission.ErrSelfLoop, http.StatusBadRequest, "self_loop"},
		{permission.ErrMalformedCustomFilter, http.StatusBadRequest, "malformed_custom_filter"},
		{permission.ErrImmutable, http.StatusConflict, "immutable"},
		{permission.ErrAlreadyExists, http.StatusConflict, "already_exists"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := StatusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("pq: password authentication failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("rule 9: %w", permission.ErrNotFound))
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "rule 9: not found", body.Error)
	assert.Equal(t, "not_found", body.Code)
}

func TestParseJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"asset"}`, false},
		{"unknown field", `{"name":"asset","nmae":"x"}`, true},
		{"trailing document", `{"name":"a"}{"name":"b"}`, true},
		{"empty", ``, true},
		{"malformed", `{name}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dest payload
			err := ParseJSON(httptest.NewRequest("POST", "/", strings.NewReader(tt.body)), &dest)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "asset", dest.Name)
		})
	}
}

func TestParseJSON_KeepsLargeNumbers(t *testing.T) {
	var dest struct {
		Record map[string]any `json:"record"`
	}
	body := `{"record":{"id":9007199254740993}}`
	require.NoError(t, ParseJSON(httptest.NewRequest("POST", "/", strings.NewReader(body)), &dest))
	assert.Equal(t, json.Number("9007199254740993"), dest.Record["id"])
}

func TestParseJSONOrError_TooLarge(t *testing.T) {
	handler := MaxBytesMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var dest map[string]string
		if ParseJSONOrError(w, r, &dest) {
			w.WriteHeader(http.StatusOK)
		}
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"much too long"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestParsePathInt64(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/rules/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := ParsePathInt64OrError(w, r, "id")
		if !ok {
			return
		}
		WriteSuccess(w, map[string]int64{"id": id})
	})

	for path, want := range map[string]int{"/rules/42": 200, "/rules/abc": 400, "/rules/0": 400, "/rules/-1": 400} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, want, rec.Code, path)
	}
}

func TestParseQueryBool(t *testing.T) {
	v, err := ParseQueryBool(httptest.NewRequest("GET", "/?active=false", nil), "active", true)
	require.NoError(t, err)
	assert.False(t, v)

	v, err = ParseQueryBool(httptest.NewRequest("GET", "/", nil), "active", true)
	require.NoError(t, err)
	assert.True(t, v)

	_, err = ParseQueryBool(httptest.NewRequest("GET", "/?active=maybe", nil), "active", true)
	assert.Error(t, err)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(observability.NopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
		assert.False(t, contextkeys.GetRequestStartTime(r.Context()).IsZero())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	given := uuid.NewString()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, given)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, given, seen)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "not a uuid")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "not a uuid", seen)
}

func TestRequestIDMiddleware_TraceFields(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)
	handler := RequestIDMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observability.FromContext(r.Context()).Info("inside")
	}))

	ctx, span := tp.Tracer("test").Start(context.Background(), "request")
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil).WithContext(ctx))
	span.End()

	assert.Contains(t, buf.String(), `"trace_id":"`+span.SpanContext().TraceID().String()+`"`)
	assert.Contains(t, buf.String(), `"request_id"`)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler bug")
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(observability.WithLogger(req.Context(), observability.NopLogger()))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() { handler.ServeHTTP(rec, req) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestContentTypeMiddleware(t *testing.T) {
	handler := ContentTypeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("POST", "/", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	for _, ct := range []string{"application/json", "application/json; charset=utf-8"} {
		req = httptest.NewRequest("POST", "/", strings.NewReader("{}"))
		req.Header.Set("Content-Type", ct)
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code, ct)
	}
}
