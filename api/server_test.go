package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/kernel"
	"gridbot/store"
	"gridbot/trader"
)

type staticGrids []trader.GridStateView

func (g staticGrids) Snapshot() []trader.GridStateView { return g }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func newJournal(t *testing.T) *store.GridStore {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "grid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestHealthAndGrids(t *testing.T) {
	grids := staticGrids{{
		ID:        "g-1",
		Direction: kernel.DirectionBuy,
		Phase:     trader.PhaseGridActive,
		Orders:    []trader.TrackedOrder{{OrderID: "paper-1", RungIndex: 0, Price: 1800, Size: 0.01}},
		Positions: []trader.TrackedPosition{},
	}}
	h := NewServer(grids, nil, "ETHUSDT", 0).Handler()

	w := get(t, h, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"symbol":"ETHUSDT"`)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = get(t, h, "/api/grids")
	require.Equal(t, http.StatusOK, w.Code)
	var views []trader.GridStateView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "g-1", views[0].ID)
	assert.Equal(t, 1800.0, views[0].Orders[0].Price)
}

func TestJournalRoutesWithoutJournal(t *testing.T) {
	h := NewServer(staticGrids{}, nil, "ETHUSDT", 0).Handler()
	for _, path := range []string{"/api/events", "/api/signal", "/api/grids/x/statistics"} {
		assert.Equal(t, http.StatusServiceUnavailable, get(t, h, path).Code, path)
	}
}

func TestEvents(t *testing.T) {
	journal := newJournal(t)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, journal.SaveGridEvent(&store.GridEventModel{
			InstanceID: "g-1",
			EventType:  store.EventSubmit,
			EventTime:  base.Add(time.Duration(i) * time.Minute),
			OrderID:    "paper-" + string(rune('1'+i)),
		}))
	}
	h := NewServer(staticGrids{}, journal, "ETHUSDT", 0).Handler()

	w := get(t, h, "/api/events?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var events []store.GridEventModel
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "paper-3", events[0].OrderID, "newest first")

	for _, bad := range []string{"0", "-1", "abc"} {
		assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/events?limit="+bad).Code)
	}
}

func TestLatestSignalAndStatistics(t *testing.T) {
	journal := newJournal(t)
	h := NewServer(staticGrids{}, journal, "ETHUSDT", 0).Handler()

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/signal").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/grids/missing/statistics").Code)

	require.NoError(t, journal.SaveSignalAssessment(&store.SignalAssessmentModel{
		Symbol: "ETHUSDT", Direction: "sell", Regime: "ranging", RSI: 72,
	}))
	require.NoError(t, journal.SaveGridInstance(&store.GridInstanceModel{
		ID: "g-1", Symbol: "ETHUSDT", Direction: "sell", State: store.GridStateActive, StartedAt: time.Now(),
	}))

	w := get(t, h, "/api/signal")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sell"`)

	w = get(t, h, "/api/grids/g-1/statistics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event_counts")
}

func TestMetricsRoute(t *testing.T) {
	h := NewServer(staticGrids{}, nil, "ETHUSDT", 0).Handler()
	w := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "gridbot_"))
}
