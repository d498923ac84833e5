//go:build integration

package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/userbase/userbase/internal/config"
	"github.com/userbase/userbase/internal/handler"
	"github.com/userbase/userbase/internal/metrics"
	"github.com/userbase/userbase/internal/repository"
	"github.com/userbase/userbase/internal/service"
	"github.com/userbase/userbase/internal/testutil"
)

type userJSON struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func newIntegrationServer(t *testing.T) *httptest.Server {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	pool, err := repository.New(ctx, repository.PoolConfig{DatabaseURL: dbURL, MinConns: 1, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	unlock, err := testutil.AcquireDBLock(ctx, pool.Pgx())
	require.NoError(t, err)
	t.Cleanup(func() { _ = unlock() })
	require.NoError(t, testutil.ResetUsersSchema(ctx, pool.Pgx()))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.NewInMemory()
	svc := service.NewUserService(repository.NewUserRepository(pool.DB(), logger), nil, recorder, logger)

	cfg := &config.Config{AppEnv: "test", MaxRequestBodySize: 1 << 20}
	srv := httptest.NewServer(setupRouter(routes{
		root:    handler.New(),
		health:  handler.NewHealthHandler(pool, nil, logger),
		metrics: handler.NewMetricsHandler(recorder),
		users:   handler.NewUserHandler(svc, logger),
	}, cfg, logger))
	t.Cleanup(srv.Close)
	return srv
}

func send(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func TestIntegration_UserLifecycle(t *testing.T) {
	srv := newIntegrationServer(t)

	resp, body := send(t, http.MethodGet, srv.URL+"/users", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, body)

	resp, body = send(t, http.MethodPost, srv.URL+"/users", `{"name":"Ada","email":"ada@example.com"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	var ada userJSON
	require.NoError(t, json.Unmarshal([]byte(body), &ada))
	assert.Positive(t, ada.ID)
	assert.NotContains(t, body, "password")

	resp, body = send(t, http.MethodPost, srv.URL+"/api/users", `{"name":"Ada Two","email":"ada@example.com"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body, "already exists")

	resp, _ = send(t, http.MethodGet, srv.URL+"/users/999999", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = send(t, http.MethodGet, srv.URL+"/users/abc", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = send(t, http.MethodPost, srv.URL+"/users", `{"name":"Grace","email":"grace@example.com"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	var grace userJSON
	require.NoError(t, json.Unmarshal([]byte(body), &grace))

	resp, body = send(t, http.MethodPatch, srv.URL+"/users/"+itoa(grace.ID), `{"email":"ada@example.com"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, body)

	resp, body = send(t, http.MethodPatch, srv.URL+"/users/"+itoa(grace.ID), `{"name":"Grace H."}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body, `"Grace H."`)

	resp, body = send(t, http.MethodGet, srv.URL+"/users", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []userJSON
	require.NoError(t, json.Unmarshal([]byte(body), &all))
	require.Len(t, all, 2)
	assert.Equal(t, ada.ID, all[0].ID)
	assert.Equal(t, grace.ID, all[1].ID)

	for range 2 {
		resp, _ = send(t, http.MethodDelete, srv.URL+"/users/"+itoa(ada.ID), "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	resp, _ = send(t, http.MethodGet, srv.URL+"/users/"+itoa(ada.ID), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = send(t, http.MethodGet, srv.URL+"/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, body)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
