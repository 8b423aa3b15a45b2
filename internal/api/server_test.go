package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventsMonitor/internal/config"
	"eventsMonitor/internal/metrics"
	"eventsMonitor/internal/supervisor"
)

const pipelineJSON = `{
  "chain": {"httpRpcUrl": "http://localhost:8545", "chainId": 1},
  "indexing": {"fromBlock": 100, "toBlock": 200, "historicalChunkSize": 50},
  "contracts": [{"name": "Token", "address": "0x1111111111111111111111111111111111111111", "abiPath": "./abi/token.json"}],
  "stores": {"primary": {"dsn": "postgres://localhost/events"}}
}`

type waitRunner struct{}

func (waitRunner) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestServer(t *testing.T) (*httptest.Server, *supervisor.Supervisor) {
	t.Helper()
	m := metrics.New(nil)
	sup := supervisor.New(func(_ context.Context, _ string, cfg config.Config) (supervisor.Runner, error) {
		if cfg.Chain.ChainID != 1 {
			t.Errorf("unexpected chain id %d", cfg.Chain.ChainID)
		}
		return waitRunner{}, nil
	}, m, nil)
	srv := httptest.NewServer(NewServer(":0", sup, m, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = sup.Shutdown(context.Background())
	})
	return srv, sup
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func createTask(t *testing.T, base string) supervisor.TaskDescriptor {
	t.Helper()
	resp, body := do(t, http.MethodPost, base+"/tasks", `{"name":"demo","config":`+pipelineJSON+`}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var desc supervisor.TaskDescriptor
	require.NoError(t, json.Unmarshal(body, &desc))
	return desc
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, sup := newTestServer(t)

	desc := createTask(t, srv.URL)
	assert.Equal(t, "demo", desc.Name)
	assert.Equal(t, supervisor.StatusStarting, desc.Status)

	resp, body := do(t, http.MethodGet, srv.URL+"/tasks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []supervisor.TaskDescriptor
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, desc.ID, list[0].ID)

	resp, _ = do(t, http.MethodGet, srv.URL+"/tasks/"+desc.ID.String(), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, http.MethodDelete, srv.URL+"/tasks/"+desc.ID.String(), "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	resp, _ = do(t, http.MethodPost, srv.URL+"/tasks/"+desc.ID.String()+"/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := sup.Wait(ctx, desc.ID)
	require.NoError(t, err)
	assert.Equal(t, supervisor.StatusStopped, final.Status)

	resp, body = do(t, http.MethodPost, srv.URL+"/tasks/cleanup", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cleaned cleanupResponse
	require.NoError(t, json.Unmarshal(body, &cleaned))
	require.Len(t, cleaned.Removed, 1)

	resp, _ = do(t, http.MethodGet, srv.URL+"/tasks/"+desc.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteFinishedTask(t *testing.T) {
	srv, sup := newTestServer(t)
	desc := createTask(t, srv.URL)

	_, err := sup.Stop(desc.ID)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = sup.Wait(ctx, desc.ID)
	require.NoError(t, err)

	resp, _ := do(t, http.MethodDelete, srv.URL+"/tasks/"+desc.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := map[string]string{
		"not json":       `{"name":`,
		"missing config": `{"name":"demo"}`,
		"invalid config": `{"name":"demo","config":{"chain":{"chainId":0}}}`,
		"missing name":   `{"config":` + pipelineJSON + `}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, out := do(t, http.MethodPost, srv.URL+"/tasks", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(out))
			var e errorResponse
			require.NoError(t, json.Unmarshal(out, &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestBadAndUnknownIDs(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := do(t, http.MethodGet, srv.URL+"/tasks/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/tasks/"+uuid.NewString()+"/stop", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	createTask(t, srv.URL)

	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, body = do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "events_monitor_tasks")
}
