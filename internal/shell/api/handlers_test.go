package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/shell/deployer"
	"github.com/berthd/berth/internal/shell/docker"
	"github.com/berthd/berth/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

type stubStore struct {
	store.Store // panic on anything not stubbed below

	byDomain map[string]*domain.Deployment
	listErr  error
}

func newStubStore() *stubStore {
	return &stubStore{byDomain: make(map[string]*domain.Deployment)}
}

func (s *stubStore) FindDeploymentByDomain(_ context.Context, domainName string) (*domain.Deployment, error) {
	dep, ok := s.byDomain[domainName]
	if !ok {
		return nil, store.NewStoreError("FindDeploymentByDomain", "deployment", domainName, "not found", store.ErrNotFound)
	}
	return dep, nil
}

func (s *stubStore) ListDeployments(context.Context, store.ListOptions) ([]domain.Deployment, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.Deployment, 0, len(s.byDomain))
	for _, dep := range s.byDomain {
		out = append(out, *dep)
	}
	return out, nil
}

type stubDeployer struct {
	result *deployer.Result
	err    error
	delay  time.Duration
	gotReq deployer.Request
}

func (d *stubDeployer) Deploy(_ context.Context, req deployer.Request) (*deployer.Result, error) {
	d.gotReq = req
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.result, nil
}

type stubDocker struct {
	pingErr error
}

func (d *stubDocker) BuildImage(context.Context, string, string, map[string]*string, string) error {
	return nil
}
func (d *stubDocker) RunContainer(context.Context, docker.ContainerSpec) (string, error) {
	return "", nil
}
func (d *stubDocker) StopContainer(context.Context, string, *time.Duration) error { return nil }
func (d *stubDocker) RemoveContainer(context.Context, string) error               { return nil }
func (d *stubDocker) InspectImage(context.Context, string) (*docker.ImageInfo, error) {
	return nil, nil
}
func (d *stubDocker) RemoveImage(context.Context, string) error  { return nil }
func (d *stubDocker) CreateVolume(context.Context, string) error { return nil }
func (d *stubDocker) RemoveVolume(context.Context, string, bool) error {
	return nil
}
func (d *stubDocker) InspectVolume(context.Context, string) (*docker.VolumeInfo, error) {
	return nil, nil
}
func (d *stubDocker) Ping() error  { return d.pingErr }
func (d *stubDocker) Close() error { return nil }

func newTestHandler(st *stubStore, dep *stubDeployer, dc *stubDocker) http.Handler {
	if st == nil {
		st = newStubStore()
	}
	if dep == nil {
		dep = &stubDeployer{}
	}
	if dc == nil {
		dc = &stubDocker{}
	}
	return SetupAPI(Config{Store: st, Docker: dc, Deployer: dep})
}

// =============================================================================
// Tests
// =============================================================================

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(nil, nil, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		handler := newTestHandler(nil, nil, &stubDocker{})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("docker down", func(t *testing.T) {
		handler := newTestHandler(nil, nil, &stubDocker{pingErr: errors.New("daemon unreachable")})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("store down", func(t *testing.T) {
		st := newStubStore()
		st.listErr = errors.New("database is locked")
		handler := newTestHandler(st, nil, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body struct {
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "failed", body.Checks["store"])
		assert.Equal(t, "ok", body.Checks["docker"])
	})
}

func TestRequestIDEchoed(t *testing.T) {
	handler := newTestHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-abc123", rec.Header().Get("X-Request-ID"))
}

func TestCreateDeployment(t *testing.T) {
	dep := &stubDeployer{result: &deployer.Result{
		Deployment: &domain.Deployment{
			ID:       "dep-1",
			Domain:   "app.example.com",
			Repo:     "github.com/acme/app",
			HostPort: 34567,
		},
	}}
	handler := newTestHandler(nil, dep, nil)

	body, _ := json.Marshal(deployRequest{
		Repo:     "https://github.com/acme/app",
		Domain:   "app.example.com",
		Services: []string{"mysql"},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/deployments", bytes.NewReader(body)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "https://github.com/acme/app", dep.gotReq.RepoRef)
	assert.Equal(t, []string{"mysql"}, dep.gotReq.Services)

	var resp deployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "dep-1", resp.Deployment.ID)
	assert.Empty(t, resp.Warning)
}

func TestCreateDeploymentOutlivesServerWriteTimeout(t *testing.T) {
	dep := &stubDeployer{
		delay: 300 * time.Millisecond,
		result: &deployer.Result{
			Deployment: &domain.Deployment{ID: "dep-slow", Domain: "app.example.com"},
		},
	}
	srv := httptest.NewUnstartedServer(newTestHandler(nil, dep, nil))
	// Tighter than the pipeline takes; the handler clears the deadline.
	srv.Config.WriteTimeout = 100 * time.Millisecond
	srv.Start()
	defer srv.Close()

	body, _ := json.Marshal(deployRequest{Repo: "github.com/acme/app", Domain: "app.example.com"})
	resp, err := http.Post(srv.URL+"/api/v1/deployments", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var out deployResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "dep-slow", out.Deployment.ID)
}

func TestAPIKeyGuard(t *testing.T) {
	st := newStubStore()
	handler := SetupAPI(Config{
		Store:    st,
		Docker:   &stubDocker{},
		Deployer: &stubDeployer{},
		APIKey:   "k-secret",
	})

	t.Run("missing key rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/deployments", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/deployments", nil)
		req.Header.Set("X-API-Key", "nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("valid key accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/deployments", nil)
		req.Header.Set("X-API-Key", "k-secret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health stays open", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAPIKeyGuardDisabledWhenUnset(t *testing.T) {
	handler := newTestHandler(nil, nil, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/deployments", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateDeploymentWithWarning(t *testing.T) {
	dep := &stubDeployer{result: &deployer.Result{
		Deployment: &domain.Deployment{ID: "dep-1", Domain: "app.example.com"},
		Warning:    "master not notified: connection refused",
	}}
	handler := newTestHandler(nil, dep, nil)

	body, _ := json.Marshal(deployRequest{Repo: "github.com/acme/app", Domain: "app.example.com"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/deployments", bytes.NewReader(body)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp deployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Warning, "master not notified")
}

func TestCreateDeploymentValidation(t *testing.T) {
	handler := newTestHandler(nil, nil, nil)

	t.Run("missing fields", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/deployments",
			bytes.NewReader([]byte(`{"repo":"github.com/acme/app"}`))))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/deployments",
			bytes.NewReader([]byte(`{not json`))))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCreateDeploymentInvalidDomain(t *testing.T) {
	dep := &stubDeployer{err: domain.NewStageError(domain.StageResolvingTarget,
		"domain \"bad\" is not a valid hostname", domain.ErrInvalidDomain)}
	handler := newTestHandler(nil, dep, nil)

	body, _ := json.Marshal(deployRequest{Repo: "github.com/acme/app", Domain: "bad"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/deployments", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDeploymentPipelineFailure(t *testing.T) {
	dep := &stubDeployer{err: domain.NewStageError(domain.StageBuilding, "build failed", domain.ErrBuildFailed)}
	handler := newTestHandler(nil, dep, nil)

	body, _ := json.Marshal(deployRequest{Repo: "github.com/acme/app", Domain: "app.example.com"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/deployments", bytes.NewReader(body)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetDeployment(t *testing.T) {
	st := newStubStore()
	st.byDomain["app.example.com"] = &domain.Deployment{ID: "dep-1", Domain: "app.example.com"}
	handler := newTestHandler(st, nil, nil)

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/deployments/app.example.com", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		var dep domain.Deployment
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dep))
		assert.Equal(t, "dep-1", dep.ID)
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/deployments/ghost.example.com", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListDeployments(t *testing.T) {
	st := newStubStore()
	st.byDomain["app.example.com"] = &domain.Deployment{ID: "dep-1", Domain: "app.example.com"}
	st.byDomain["api.example.com"] = &domain.Deployment{ID: "dep-2", Domain: "api.example.com"}
	handler := newTestHandler(st, nil, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/deployments", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Deployments []domain.Deployment `json:"deployments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Deployments, 2)
}
