package instance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/arrsync/internal/config"
	"github.com/foxzi/arrsync/internal/models"
)

// fakeArr is an in-memory Radarr/Sonarr v3 API
type fakeArr struct {
	mu       sync.Mutex
	version  string
	formats  map[int]CustomFormat
	profile  map[string]any
	nextID   int
	failPost bool
}

func newFakeArr(t *testing.T, version string) (*fakeArr, *httptest.Server) {
	t.Helper()

	f := &fakeArr{
		version: version,
		formats: map[int]CustomFormat{},
		profile: map[string]any{
			"id":             1,
			"name":           "HD-1080p",
			"upgradeAllowed": true,
			"formatItems":    []any{},
		},
		nextID: 1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/system/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(SystemStatus{AppName: "Radarr", Version: f.version})
	})
	mux.HandleFunc("GET /api/v3/customformat", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		list := []CustomFormat{}
		for i := 1; i < f.nextID; i++ {
			if cf, ok := f.formats[i]; ok {
				list = append(list, cf)
			}
		}
		json.NewEncoder(w).Encode(list)
	})
	mux.HandleFunc("POST /api/v3/customformat", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failPost {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`[{"propertyName":"Name","errorMessage":"Must be unique"}]`))
			return
		}
		var cf CustomFormat
		json.NewDecoder(r.Body).Decode(&cf)
		cf.ID = f.nextID
		f.nextID++
		f.formats[cf.ID] = cf
		json.NewEncoder(w).Encode(cf)
	})
	mux.HandleFunc("PUT /api/v3/customformat/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id, _ := strconv.Atoi(r.PathValue("id"))
		if _, ok := f.formats[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"NotFound"}`))
			return
		}
		var cf CustomFormat
		json.NewDecoder(r.Body).Decode(&cf)
		cf.ID = id
		f.formats[id] = cf
		json.NewEncoder(w).Encode(cf)
	})
	mux.HandleFunc("DELETE /api/v3/customformat/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id, _ := strconv.Atoi(r.PathValue("id"))
		delete(f.formats, id)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/v3/qualityprofile", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode([]any{f.profile})
	})
	mux.HandleFunc("PUT /api/v3/qualityprofile/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var p map[string]any
		json.NewDecoder(r.Body).Decode(&p)
		f.profile = p
		json.NewEncoder(w).Encode(p)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestManager(baseURL string) *Manager {
	return NewManager([]config.InstanceConfig{{
		ID:          "radarr-1",
		Name:        "Radarr",
		ServiceType: models.ServiceRadarr,
		BaseURL:     baseURL,
		APIKey:      "key",
		Timeout:     5 * time.Second,
	}})
}

func TestManager_Status(t *testing.T) {
	_, srv := newFakeArr(t, "5.2.6.8376")
	m := newTestManager(srv.URL)

	status, err := m.Status(context.Background(), "radarr-1")
	require.NoError(t, err)
	assert.True(t, status.Reachable)
	assert.Equal(t, "5.2.6.8376", status.Version)

	_, err = m.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestManager_StatusUnreachable(t *testing.T) {
	m := newTestManager("http://127.0.0.1:1")

	status, err := m.Status(context.Background(), "radarr-1")
	require.NoError(t, err)
	assert.False(t, status.Reachable)
	assert.NotEmpty(t, status.Error)

	all := m.AllStatus(context.Background())
	require.Len(t, all, 1)
	assert.False(t, all[0].Reachable)
}

func TestManager_StatusUnsupportedVersion(t *testing.T) {
	_, srv := newFakeArr(t, "3.2.1.5070")
	m := NewManager([]config.InstanceConfig{{
		ID: "sonarr-1", ServiceType: models.ServiceSonarr, BaseURL: srv.URL, APIKey: "key",
	}})

	status, err := m.Status(context.Background(), "sonarr-1")
	require.NoError(t, err)
	assert.False(t, status.Reachable)
	assert.Contains(t, status.Error, "unsupported")
}

func TestManager_ItemLifecycle(t *testing.T) {
	fake, srv := newFakeArr(t, "5.0.0")
	m := newTestManager(srv.URL)
	ctx := context.Background()

	specs := json.RawMessage(`[{"name":"x265","implementation":"ReleaseTitleSpecification","negate":false,"required":true,"fields":{"value":"x265"}}]`)
	id, err := m.CreateItem(ctx, "radarr-1", "HD-1080p", models.RemoteItem{Name: "x265", Score: -100, Specifications: specs})
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	// fields went out in API shape
	fake.mu.Lock()
	stored := fake.formats[id]
	fake.mu.Unlock()
	assert.Contains(t, string(stored.Specifications), `"name":"value"`)

	items, err := m.ListItems(ctx, "radarr-1", "HD-1080p")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, -100, items[0].Score)
	assert.JSONEq(t, string(specs), string(items[0].Specifications))

	// profile fields the engine does not manage survive the update
	fake.mu.Lock()
	assert.Equal(t, true, fake.profile["upgradeAllowed"])
	fake.mu.Unlock()

	err = m.UpdateItem(ctx, "radarr-1", "HD-1080p", models.RemoteItem{RemoteID: id, Name: "x265 (HD)", Score: 25})
	require.NoError(t, err)

	items, err = m.ListItems(ctx, "radarr-1", "HD-1080p")
	require.NoError(t, err)
	assert.Equal(t, "x265 (HD)", items[0].Name)
	assert.Equal(t, 25, items[0].Score)
	assert.JSONEq(t, string(specs), string(items[0].Specifications))

	require.NoError(t, m.DeleteItem(ctx, "radarr-1", id))
	items, err = m.ListItems(ctx, "radarr-1", "")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestManager_UpdateKeepsRenamingFlag(t *testing.T) {
	fake, srv := newFakeArr(t, "5.0.0")
	m := newTestManager(srv.URL)
	ctx := context.Background()

	id, err := m.CreateItem(ctx, "radarr-1", "", models.RemoteItem{Name: "Repack"})
	require.NoError(t, err)

	fake.mu.Lock()
	cf := fake.formats[id]
	cf.IncludeCustomFormatWhenRenaming = true
	fake.formats[id] = cf
	fake.mu.Unlock()

	tests := []struct {
		name  string
		specs json.RawMessage
	}{
		{"kept specifications", nil},
		{"new specifications", json.RawMessage(`[{"name":"r","implementation":"ReleaseTitleSpecification","negate":false,"required":true,"fields":{"value":"repack"}}]`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.UpdateItem(ctx, "radarr-1", "", models.RemoteItem{RemoteID: id, Name: "Repack v2", Specifications: tt.specs})
			require.NoError(t, err)

			fake.mu.Lock()
			defer fake.mu.Unlock()
			assert.True(t, fake.formats[id].IncludeCustomFormatWhenRenaming)
			assert.Equal(t, "Repack v2", fake.formats[id].Name)
		})
	}
}

func TestManager_ErrorMessages(t *testing.T) {
	fake, srv := newFakeArr(t, "5.0.0")
	fake.failPost = true
	m := newTestManager(srv.URL)

	_, err := m.CreateItem(context.Background(), "radarr-1", "", models.RemoteItem{Name: "dup"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Must be unique")

	err = m.UpdateItem(context.Background(), "radarr-1", "", models.RemoteItem{RemoteID: 99, Name: "x", Specifications: json.RawMessage(`[]`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotFound")
}

func TestManager_MissingProfile(t *testing.T) {
	_, srv := newFakeArr(t, "5.0.0")
	m := newTestManager(srv.URL)

	_, err := m.CreateItem(context.Background(), "radarr-1", "4K", models.RemoteItem{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `quality profile "4K" not found`)
}

func TestNormalizeSpecs(t *testing.T) {
	api := json.RawMessage(`[{"id":3,"name":"BR","implementation":"SourceSpecification","implementationName":"Source","negate":false,"required":false,"fields":[{"order":0,"name":"value","label":"Source","value":9}]}]`)
	want := `[{"name":"BR","implementation":"SourceSpecification","negate":false,"required":false,"fields":{"value":9}}]`
	assert.JSONEq(t, want, string(NormalizeSpecs(api)))

	back := APISpecs(json.RawMessage(want))
	assert.JSONEq(t, `[{"name":"BR","implementation":"SourceSpecification","negate":false,"required":false,"fields":[{"name":"value","value":9}]}]`, string(back))

	assert.Equal(t, "[]", string(APISpecs(nil)))
}
