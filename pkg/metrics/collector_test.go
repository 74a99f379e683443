package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	arena, locators, idIndex, watermark, commitTS uint64
}

func (f fakeSource) ArenaBytesUsed() uint64      { return f.arena }
func (f fakeSource) LocatorsAllocated() uint64   { return f.locators }
func (f fakeSource) IDIndexEntries() uint64      { return f.idIndex }
func (f fakeSource) Watermark() uint64           { return f.watermark }
func (f fakeSource) LastAppliedCommitTS() uint64 { return f.commitTS }

func doRequest(t *testing.T, h http.HandlerFunc) (*http.Response, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	resp := rec.Result()
	var r report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	return resp, r
}

func TestHealthUnhealthyBeforeFirstSample(t *testing.T) {
	c := NewCollector(fakeSource{})
	resp, r := doRequest(t, c.HealthHandler())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", r.Status)
}

func TestHealthyAfterSample(t *testing.T) {
	c := NewCollector(fakeSource{arena: 4096, locators: 3, idIndex: 3, watermark: 7, commitTS: 9})
	c.SetVersion("test-version")
	c.collect()

	resp, r := doRequest(t, c.HealthHandler())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", r.Status)
	assert.Equal(t, "test-version", r.Version)
	assert.Equal(t, uint64(4096), r.Metrics["arena_bytes_used"])
	assert.Equal(t, uint64(7), r.Metrics["watermark"])
}

func TestReadyNotReadyBeforeFirstSample(t *testing.T) {
	c := NewCollector(fakeSource{})
	resp, r := doRequest(t, c.ReadyHandler())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "not_ready", r.Status)
}

func TestReadyAfterSample(t *testing.T) {
	c := NewCollector(fakeSource{})
	c.collect()
	resp, r := doRequest(t, c.ReadyHandler())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", r.Status)
}

func TestDrainingReportsUnhealthyAndNotReady(t *testing.T) {
	c := NewCollector(fakeSource{})
	c.collect()
	c.Stop()

	_, health := doRequest(t, c.HealthHandler())
	assert.Equal(t, "unhealthy", health.Status)

	_, ready := doRequest(t, c.ReadyHandler())
	assert.Equal(t, "not_ready", ready.Status)
}

func TestLivenessAlwaysAlive(t *testing.T) {
	c := NewCollector(fakeSource{})
	resp := httptest.NewRecorder()
	c.LivenessHandler()(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "alive", body["status"])
}
