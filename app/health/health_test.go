package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeProbe struct {
	checks map[string]error
	start  time.Time
}

func (f fakeProbe) Health(context.Context) map[string]error { return f.checks }
func (f fakeProbe) Version() string                         { return "1.2.3" }
func (f fakeProbe) BuildStamp() string                       { return "2026-01-01T00:00:00Z" }
func (f fakeProbe) StartStamp() time.Time                    { return f.start }

func TestHealthyReturns200(t *testing.T) {
	p := fakeProbe{checks: map[string]error{"db": nil}, start: time.Now().Add(-time.Minute)}
	h := NewHandler(p, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsSick)
	assert.Equal(t, "ok", resp.Checks["db"])
	assert.Equal(t, "1.2.3", resp.Version)
	assert.NotEmpty(t, resp.StartTime)
	assert.NotEmpty(t, resp.UpTime)
}

func TestSickReturns500(t *testing.T) {
	p := fakeProbe{checks: map[string]error{"db": errors.New("connection refused")}}
	h := NewHandler(p, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp Response
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsSick)
	assert.Equal(t, "connection refused", resp.Checks["db"])
}

func TestHeadRequestWritesNoBody(t *testing.T) {
	p := fakeProbe{checks: map[string]error{"db": nil}}
	h := NewHandler(p, nil)

	req := httptest.NewRequest(http.MethodHead, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestZeroStartStampOmitsTimeFields(t *testing.T) {
	p := fakeProbe{checks: map[string]error{}}
	resp := evaluate(p, context.Background())
	assert.Empty(t, resp.StartTime)
	assert.Empty(t, resp.UpTime)
}
