package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bunrouter"
)

func testRouter(t *testing.T, opts RouterOptions) (*httptest.Server, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	handler, err := NewRouter(opts, logrus.NewEntry(logger), func(r *bunrouter.CompatRouter) {
		r.GET("/ping", func(w http.ResponseWriter, req *http.Request) {
			w.Write([]byte("pong"))
		})
		r.POST("/echo", func(w http.ResponseWriter, req *http.Request) {
			data, err := io.ReadAll(req.Body)
			if err != nil {
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				return
			}
			w.Write(data)
		})
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, hook
}

func defaultOptions() RouterOptions {
	return RouterOptions{Rate: "100-S", CORSOrigins: []string{"*"}, BodyLimit: 1 << 10}
}

func TestNewRouterRejectsBadRate(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewRouter(RouterOptions{Rate: "fast"}, logrus.NewEntry(logger), func(*bunrouter.CompatRouter) {})
	assert.Error(t, err)
}

func TestRequestIDAndLogging(t *testing.T) {
	srv, hook := testRouter(t, defaultOptions())
	client := resty.New()

	resp, err := client.R().Get(srv.URL + "/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "pong", resp.String())
	_, err = uuid.Parse(resp.Header().Get(RequestIDHeader))
	assert.NoError(t, err)

	const callerID = "3f1c8e8a-2b6d-4b8e-9a57-5f0c1d2e3a4b"
	resp, err = client.R().SetHeader(RequestIDHeader, callerID).Get(srv.URL + "/ping")
	require.NoError(t, err)
	assert.Equal(t, callerID, resp.Header().Get(RequestIDHeader))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "[HTTP] Request served", entry.Message)
	assert.Equal(t, http.StatusOK, entry.Data["status"])
	assert.Equal(t, "/ping", entry.Data["route"])
	assert.Equal(t, callerID, entry.Data["request_id"])
}

func TestRequestIDReplacesMalformedID(t *testing.T) {
	srv, hook := testRouter(t, defaultOptions())
	client := resty.New()

	for _, id := range []string{"abc-123", "<script>alert(1)</script>", strings.Repeat("x", 500)} {
		resp, err := client.R().SetHeader(RequestIDHeader, id).Get(srv.URL + "/ping")
		require.NoError(t, err)
		got := resp.Header().Get(RequestIDHeader)
		assert.NotEqual(t, id, got)
		_, err = uuid.Parse(got)
		assert.NoError(t, err, "replacement id %q", got)

		entry := hook.LastEntry()
		require.NotNil(t, entry)
		assert.Equal(t, got, entry.Data["request_id"])
	}
}

func TestCORS(t *testing.T) {
	srv, _ := testRouter(t, defaultOptions())
	client := resty.New()

	resp, err := client.R().Execute(http.MethodOptions, srv.URL+"/echo")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header().Get("Access-Control-Allow-Methods"), "POST")

	srv, _ = testRouter(t, RouterOptions{Rate: "100-S", CORSOrigins: []string{"https://app.example.org"}})
	resp, err = client.R().SetHeader("Origin", "https://app.example.org").Get(srv.URL + "/ping")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.org", resp.Header().Get("Access-Control-Allow-Origin"))

	resp, err = client.R().SetHeader("Origin", "https://evil.example.org").Get(srv.URL + "/ping")
	require.NoError(t, err)
	assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	srv, _ := testRouter(t, RouterOptions{Rate: "2-M", CORSOrigins: []string{"*"}})
	client := resty.New()

	for i := 0; i < 2; i++ {
		resp, err := client.R().Get(srv.URL + "/ping")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode())
		assert.Equal(t, "2", resp.Header().Get("X-RateLimit-Limit"))
	}
	resp, err := client.R().Get(srv.URL + "/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode())
	assert.Equal(t, "0", resp.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, resp.String(), "Rate limit exceeded")
}

func TestBodyLimit(t *testing.T) {
	srv, _ := testRouter(t, defaultOptions())
	client := resty.New()

	resp, err := client.R().SetBody(strings.Repeat("a", 100)).Post(srv.URL + "/echo")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	resp, err = client.R().SetBody(strings.Repeat("a", 4<<10)).Post(srv.URL + "/echo")
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode())
	assert.Contains(t, resp.String(), "detail")
}

func TestRunStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{Addr: "127.0.0.1:0"}, http.NotFoundHandler(), logrus.NewEntry(logger))
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
