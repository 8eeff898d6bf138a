package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/jobs"
	redisclient "github.com/clinicops/portal-sync/internal/redis"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := zap.NewNop()
	store := jobs.NewRedisStore(client, time.Hour)
	dispatcher := jobs.NewDispatcher(jobs.Options{
		Workers:   2,
		LockWait:  time.Second,
		LockLease: time.Minute,
	}, store, redisclient.NewRedisLocker(client), log)

	dispatcher.Register(jobs.Definition{
		Name: "noop",
		Run: func(ctx context.Context, a jobs.Args) (interface{}, error) {
			return map[string]string{"ok": "true"}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	dispatcher.Start(ctx)
	t.Cleanup(dispatcher.Stop)

	router := NewRouter(log, nil, NewJobHandler(dispatcher, store, log))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitAndPollJob(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{"name": "noop"})
	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.JobID)

	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/v1/jobs/" + submitted.JobID)
		if err != nil {
			return false
		}
		defer r.Body.Close()

		var rec jobs.Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			return false
		}
		return rec.Status == jobs.StatusSucceeded
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSubmitUnknownJobName(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{"name": "nope"})
	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, string(jobs.CodeBadRequest), errResp.Error.Code)
}

func TestSubmitRejectsBadJSON(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUnknownJob(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/jobs/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
