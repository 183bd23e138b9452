package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexflow/datagate/creds"
	"github.com/hexflow/datagate/datacache"
)

type stubStore struct {
	mu       sync.Mutex
	datasets map[string][]byte
	fetches  int
	fetchErr error
	logs     map[string][]byte
}

func (s *stubStore) Fetch(ctx context.Context, datasetID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	b, ok := s.datasets[datasetID]
	if !ok {
		return nil, fmt.Errorf("no such dataset")
	}
	return b, nil
}

func (s *stubStore) PutLog(ctx context.Context, datasetID, tsKey string, entry []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logs == nil {
		s.logs = map[string][]byte{}
	}
	s.logs[datasetID+"/"+tsKey] = entry
	return nil
}

func (s *stubStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *stubStore) logCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

func (s *stubStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

type stubCreds struct {
	records map[string]*creds.APIKey
}

func (d *stubCreds) Lookup(ctx context.Context, tenant, endpoint, key string) (*creds.APIKey, error) {
	if rec, ok := d.records[tenant+"/"+endpoint+"/"+key]; ok {
		return rec, nil
	}
	return nil, creds.ErrCredentialNotFound
}

func testServer(t *testing.T, store *stubStore) *Server {
	t.Helper()
	scratch, err := datacache.OpenScratch(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { scratch.Close() })

	cache := datacache.New(store, scratch, datacache.Config{})
	dir := &stubCreds{records: map[string]*creds.APIKey{
		"acme/users/k1":   {Tenant: "acme", Endpoint: "users", Key: "k1", DatasetID: "ds1", AllowedMethod: "GET", Status: creds.StatusActive},
		"acme/users/dead": {Tenant: "acme", Endpoint: "users", Key: "dead", DatasetID: "ds1", Status: "disabled"},
	}}

	srv, err := New(cache, dir, store, Config{Bind: ":0"})
	require.NoError(t, err)
	return srv
}

func doReq(srv *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestDataRequestFlow(t *testing.T) {
	assert := assert.New(t)

	store := &stubStore{datasets: map[string][]byte{
		"ds1": []byte(`[{"id":1,"name":"x","score":10},{"id":2,"name":"y","score":20}]`),
	}}
	srv := testServer(t, store)

	res := doReq(srv, http.MethodGet, "/acme/users/k1?score=%3E%3D15", nil)
	assert.Equal(http.StatusOK, res.Code)
	assert.JSONEq(`[{"id":2,"name":"y","score":20}]`, res.Body.String())

	// while the cache is fresh a store outage is invisible
	store.setErr(fmt.Errorf("store down"))
	res = doReq(srv, http.MethodGet, "/acme/users/k1?score=%3E%3D15", nil)
	assert.Equal(http.StatusOK, res.Code)
	assert.JSONEq(`[{"id":2,"name":"y","score":20}]`, res.Body.String())
	assert.Equal(1, store.fetchCount())

	// the access log upload is async and best-effort
	assert.Eventually(func() bool { return store.logCount() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestCredentialDenials(t *testing.T) {
	assert := assert.New(t)

	store := &stubStore{datasets: map[string][]byte{"ds1": []byte(`[]`)}}
	srv := testServer(t, store)

	// unknown key, disabled key, and method mismatch all get the same body
	for _, tc := range []struct {
		method string
		target string
	}{
		{http.MethodGet, "/acme/users/nope"},
		{http.MethodGet, "/acme/users/dead"},
		{http.MethodPost, "/acme/users/k1"},
	} {
		res := doReq(srv, tc.method, tc.target, nil)
		assert.Equal(http.StatusForbidden, res.Code, tc.target)
		assert.JSONEq(`{"error":"Forbidden","message":"request not authorized"}`, res.Body.String())
	}

	// denied requests never touch the store
	assert.Equal(0, store.fetchCount())
}

func TestBypassRouteAlwaysFetches(t *testing.T) {
	assert := assert.New(t)

	store := &stubStore{datasets: map[string][]byte{"ds1": []byte(`[{"id":1}]`)}}
	srv := testServer(t, store)

	for i := 1; i <= 3; i++ {
		res := doReq(srv, http.MethodGet, "/acme/users/k1/preview", nil)
		assert.Equal(http.StatusOK, res.Code)
		assert.Equal(i, store.fetchCount())
	}
}

func TestUpstreamFailureOnColdCache(t *testing.T) {
	assert := assert.New(t)

	store := &stubStore{fetchErr: fmt.Errorf("store down")}
	srv := testServer(t, store)

	res := doReq(srv, http.MethodGet, "/acme/users/k1", nil)
	assert.Equal(http.StatusBadGateway, res.Code)
	assert.JSONEq(`{"error":"UpstreamUnavailable","message":"dataset temporarily unavailable"}`, res.Body.String())
}

func TestCSVNegotiation(t *testing.T) {
	assert := assert.New(t)

	store := &stubStore{datasets: map[string][]byte{
		"ds1": []byte(`[{"id":1,"name":"x"},{"id":2,"name":"y"}]`),
	}}
	srv := testServer(t, store)

	res := doReq(srv, http.MethodGet, "/acme/users/k1", map[string]string{"Accept": "text/csv"})
	assert.Equal(http.StatusOK, res.Code)
	assert.Contains(res.Header().Get("Content-Type"), "text/csv")
	assert.Equal("id,name\n1,x\n2,y\n", res.Body.String())
}

func TestHealthCheck(t *testing.T) {
	store := &stubStore{}
	srv := testServer(t, store)

	res := doReq(srv, http.MethodGet, "/_health", nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"status":"ok"`)
}
