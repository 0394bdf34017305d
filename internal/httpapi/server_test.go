package httpapi

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecast/pulsecast/internal/bandit"
	"github.com/pulsecast/pulsecast/internal/gate"
	"github.com/pulsecast/pulsecast/internal/metrics"
	"github.com/pulsecast/pulsecast/internal/persistence"
	"github.com/pulsecast/pulsecast/internal/persistence/memory"
	"github.com/pulsecast/pulsecast/internal/reward"
	"github.com/pulsecast/pulsecast/internal/scheduler"
	"github.com/pulsecast/pulsecast/internal/trend"
)

type noCandidates struct{}

func (noCandidates) TopRanked(ctx context.Context, n int) ([]trend.RankedTopic, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *persistence.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	selector := bandit.NewSelector(noCandidates{}, repo.Arms, repo.Decisions, bandit.DefaultConfig(), rand.New(rand.NewSource(1)))
	return NewServer(":0", repo, selector, gate.DefaultConfig(), []string{"tiktok"}, metrics.NewRegistry()), repo
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestStats(t *testing.T) {
	s, repo := newTestServer(t)
	ctx := context.Background()
	now := time.Now()

	// Two decisions, one resolved; one publish today.
	require.NoError(t, repo.Decisions.Append(ctx, persistence.Decision{ID: uuid.New(), Topic: "#ai", DecidedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, repo.Decisions.Append(ctx, persistence.Decision{ID: uuid.New(), Topic: "#gpu", DecidedAt: now.Add(-time.Hour)}))
	require.NoError(t, repo.Decisions.ResolveLatest(ctx, "#ai", 42, reward.Outcome{Views: 5000}, now))
	require.NoError(t, repo.Arms.RecordSelection(ctx, "#ai", now.Add(-2*time.Hour)))
	require.NoError(t, repo.Arms.RecordReward(ctx, "#ai", 42))
	require.NoError(t, repo.Windows.RecordPublish(ctx, "tiktok", now.Add(-time.Hour)))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, int64(2), resp.TotalDecisions)
	assert.Equal(t, int64(1), resp.ResolvedDecisions)
	assert.InDelta(t, 0.5, resp.CompletionRate, 1e-9)
	assert.InDelta(t, 42.0, resp.AvgReward, 1e-9)
	assert.InDelta(t, 0.1, resp.Epsilon, 1e-9)
	require.Len(t, resp.TopArms, 1)
	assert.Equal(t, "#ai", resp.TopArms[0].Topic)
	assert.Equal(t, 1, resp.RemainingSlots["tiktok"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHubDeliversEvents(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.srv.Handler)
	defer ts.Close()
	defer s.hub.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/decisions"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration races the dial returning; give the hub a beat.
	require.Eventually(t, func() bool {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		return len(s.hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	sent := scheduler.Event{Kind: "decision", Topic: "#ai", State: "exploiting", Timestamp: time.Now().UTC()}
	s.hub.Publish(sent)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got scheduler.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "decision", got.Kind)
	assert.Equal(t, "#ai", got.Topic)
}
