package rcapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"colonybridge/internal/model"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.URL, "colonybridge/test", 500*time.Millisecond, 1000, zap.NewNop())
	c.retryDelay = time.Millisecond
	return c, srv
}

func TestGetProject(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/system/7/303", r.URL.Path)
		assert.Equal(t, "colonybridge/test", r.Header.Get("User-Agent"))
		json.NewEncoder(w).Encode(model.Project{BuildID: "b1", BuildName: "Liberty Port", MarketID: 303})
	}))

	p, err := c.GetProject(context.Background(), 7, 303)
	require.NoError(t, err)
	assert.Equal(t, "b1", p.BuildID)
	assert.Equal(t, "Liberty Port", p.BuildName)
}

func TestGetProjectNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no project", http.StatusNotFound)
	}))
	_, err := c.GetProject(context.Background(), 7, 303)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCommanderCarriersNotFoundIsEmpty(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no carriers", http.StatusNotFound)
	}))
	fcs, err := c.ListCommanderCarriers(context.Background(), "Jameson")
	require.NoError(t, err)
	assert.Empty(t, fcs)
}

func TestUpdateProjectSupply(t *testing.T) {
	var got model.SupplyUpdate
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/project/b1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))

	err := c.UpdateProjectSupply(context.Background(), "b1", model.SupplyUpdate{
		BuildID:     "b1",
		Commodities: map[string]int{"steel": 60},
		MaxNeed:     100,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"steel": 60}, got.Commodities)
	assert.Equal(t, 100, got.MaxNeed)
}

func TestContributeCargoPath(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/project/b1/contribute/Jameson", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	require.NoError(t, c.ContributeCargo(context.Background(), "b1", "Jameson", map[string]int{"gold": 20}))
}

func TestCarrierCallsCarryCredentials(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Jameson", r.Header.Get("rcc-cmdr"))
		assert.Equal(t, "secret", r.Header.Get("rcc-key"))
		json.NewEncoder(w).Encode(map[string]int{"tritium": 95})
	}))
	c.SetCredentials("Jameson", "secret")

	cargo, err := c.SupplyCarrier(context.Background(), 3700000001, map[string]int{"tritium": -5})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"tritium": 95}, cargo)
}

func TestCarrierCargoRetriesOnTimeout(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			time.Sleep(time.Second) // longer than the client timeout
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"tritium": 95})
	}))

	cargo, err := c.SupplyCarrier(context.Background(), 3700000001, map[string]int{"tritium": -5})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, map[string]int{"tritium": 95}, cargo)
}

func TestCarrierCargoGivesUpAfterBudget(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
		time.Sleep(time.Second)
	}))

	_, err := c.SupplyCarrier(context.Background(), 3700000001, map[string]int{"tritium": -5})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, err.Error(), "timed out after 3 attempts")
}

func TestCarrierCargoServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))

	_, err := c.SupplyCarrier(context.Background(), 3700000001, map[string]int{"tritium": -5})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "only timeouts are retried")
}

func TestRenameProject(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Liberty Port", body["buildName"])
		w.WriteHeader(http.StatusOK)
	}))
	require.NoError(t, c.RenameProject(context.Background(), "b1", "Liberty Port"))
}
