package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(ctx context.Context) error   { return nil }
func fail(ctx context.Context) error { return errors.New("connection refused") }

func TestRunWorstStatusWins(t *testing.T) {
	c := NewChecker()
	c.Register("elasticsearch", PingCheck(up, StatusDown))
	c.Register("redis", PingCheck(fail, StatusDegraded))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "connection refused", report.Components["redis"].Message)

	c.Register("elasticsearch", PingCheck(fail, StatusDown))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
	assert.Equal(t, []string{"elasticsearch", "redis"}, c.Names())
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("postgres", PingCheck(fail, StatusDegraded))

	rec := httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Register("elasticsearch", PingCheck(fail, StatusDown))
	rec = httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDown, report.Status)
}
