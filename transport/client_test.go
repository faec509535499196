package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlabs/cyberdash/auth"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestKeeper(pair auth.Pair) *auth.Keeper {
	k := auth.NewKeeper(nil, nil, newTestLogger())
	k.Set(context.Background(), pair)
	return k
}

func newTestClient(coreURL, intelURL string, keeper *auth.Keeper) *Client {
	return New(DefaultConfig(coreURL, intelURL), keeper, newTestLogger())
}

func TestRequest_RoutesByPrefix(t *testing.T) {
	var coreHits, intelHits atomic.Int32

	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		coreHits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer core.Close()

	intel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		intelHits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer intel.Close()

	c := newTestClient(core.URL, intel.URL, newTestKeeper(auth.Pair{}))
	ctx := context.Background()

	_, err := c.Request(ctx, http.MethodGet, "/missions/m-1", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), coreHits.Load())
	assert.Equal(t, int32(0), intelHits.Load())

	_, err = c.Request(ctx, http.MethodGet, "/recommendations/next-mission", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), intelHits.Load())

	_, err = c.Request(ctx, http.MethodPost, "/embeddings/search", map[string]string{"q": "sql injection"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), intelHits.Load())
	assert.Equal(t, int32(1), coreHits.Load())
}

func TestRequest_AttachesBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL, newTestKeeper(auth.Pair{AccessToken: "at-1", RefreshToken: "rt-1"}))

	_, err := c.Request(context.Background(), http.MethodGet, "/missions/m-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer at-1", gotAuth)
}

func TestRequest_SkipAuth(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL, newTestKeeper(auth.Pair{AccessToken: "at-1"}))

	_, err := c.Request(context.Background(), http.MethodPost, "/auth/login", map[string]string{"email": "x"}, SkipAuth())
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestRequest_NoTokenProceedsUnauthenticated(t *testing.T) {
	var sawAuthHeader bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuthHeader = r.Header.Get("Authorization") != ""
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL, newTestKeeper(auth.Pair{}))

	_, err := c.Request(context.Background(), http.MethodGet, "/missions", nil)
	require.NoError(t, err)
	assert.False(t, sawAuthHeader)
}

func TestRequest_RefreshAndRetryOn401(t *testing.T) {
	var refreshCalls, dataCalls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == refreshPath {
			refreshCalls.Add(1)
			assert.Empty(t, r.Header.Get("Authorization"), "refresh must be unauthenticated")

			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "rt-old", req["refresh_token"])

			_ = json.NewEncoder(w).Encode(auth.Pair{AccessToken: "at-new", RefreshToken: "rt-new"})
			return
		}

		dataCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer at-new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	keeper := newTestKeeper(auth.Pair{AccessToken: "at-old", RefreshToken: "rt-old"})
	c := newTestClient(server.URL, server.URL, keeper)

	body, err := c.Request(context.Background(), http.MethodGet, "/missions/m-1", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Equal(t, int32(2), dataCalls.Load())

	// The refreshed pair replaced the old one atomically.
	assert.Equal(t, auth.Pair{AccessToken: "at-new", RefreshToken: "rt-new"}, keeper.Pair())
}

func TestRequest_SequentialRefreshCyclesEachYieldUsablePair(t *testing.T) {
	var (
		mu           sync.Mutex
		validAccess  string
		validRefresh = "rt-0"
		issued       int
	)
	var refreshCalls, dataCalls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		if r.URL.Path == refreshPath {
			refreshCalls.Add(1)

			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req["refresh_token"] != validRefresh {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			issued++
			validAccess = fmt.Sprintf("at-%d", issued)
			validRefresh = fmt.Sprintf("rt-%d", issued)
			_ = json.NewEncoder(w).Encode(auth.Pair{AccessToken: validAccess, RefreshToken: validRefresh})
			return
		}

		dataCalls.Add(1)
		if validAccess == "" || r.Header.Get("Authorization") != "Bearer "+validAccess {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		// Expire the access token after one successful use so the next
		// request goes through a fresh refresh cycle.
		validAccess = ""
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	keeper := newTestKeeper(auth.Pair{AccessToken: "at-0", RefreshToken: "rt-0"})
	c := newTestClient(server.URL, server.URL, keeper)
	ctx := context.Background()

	_, err := c.Request(ctx, http.MethodGet, "/missions/m-1", nil)
	require.NoError(t, err)
	assert.Equal(t, auth.Pair{AccessToken: "at-1", RefreshToken: "rt-1"}, keeper.Pair())

	_, err = c.Request(ctx, http.MethodGet, "/missions/m-2", nil)
	require.NoError(t, err)
	assert.Equal(t, auth.Pair{AccessToken: "at-2", RefreshToken: "rt-2"}, keeper.Pair())

	// Each request performed exactly one refresh cycle: 401, refresh, retry.
	assert.Equal(t, int32(2), refreshCalls.Load())
	assert.Equal(t, int32(4), dataCalls.Load())
}

func TestRequest_BoundedRetry_RetriedCallAlso401(t *testing.T) {
	var refreshCalls, dataCalls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == refreshPath {
			refreshCalls.Add(1)
			_ = json.NewEncoder(w).Encode(auth.Pair{AccessToken: "at-new", RefreshToken: "rt-new"})
			return
		}
		dataCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	keeper := newTestKeeper(auth.Pair{AccessToken: "at-old", RefreshToken: "rt-old"})
	c := newTestClient(server.URL, server.URL, keeper)

	_, err := c.Request(context.Background(), http.MethodGet, "/missions/m-1", nil)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	// Exactly one refresh and exactly one retried call, never a loop.
	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Equal(t, int32(2), dataCalls.Load())

	// Terminal auth failure clears the credential pair.
	assert.True(t, keeper.Pair().IsZero())
}

func TestRequest_RefreshFailureClearsCredentials(t *testing.T) {
	var dataCalls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == refreshPath {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		dataCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	keeper := newTestKeeper(auth.Pair{AccessToken: "at-old", RefreshToken: "rt-old"})
	c := newTestClient(server.URL, server.URL, keeper)

	_, err := c.Request(context.Background(), http.MethodGet, "/missions/m-1", nil)

	// The original 401 is surfaced, not the refresh failure.
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Equal(t, int32(1), dataCalls.Load(), "no retry without a successful refresh")
	assert.True(t, keeper.Pair().IsZero())
}

func TestRequest_No401RetryWhenSkipAuth(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	keeper := newTestKeeper(auth.Pair{AccessToken: "at", RefreshToken: "rt"})
	c := newTestClient(server.URL, server.URL, keeper)

	_, err := c.Request(context.Background(), http.MethodPost, "/auth/login", nil, SkipAuth())
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, keeper.Pair().IsZero(), "skipAuth failures never touch credentials")
}

func TestRequest_No401RetryWithoutRefreshToken(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL, newTestKeeper(auth.Pair{AccessToken: "at"}))

	_, err := c.Request(context.Background(), http.MethodGet, "/missions/m-1", nil)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequest_NetworkErrorNotRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // immediately unreachable

	c := newTestClient(server.URL, server.URL, newTestKeeper(auth.Pair{AccessToken: "at", RefreshToken: "rt"}))

	_, err := c.Request(context.Background(), http.MethodGet, "/missions/m-1", nil)

	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestGetJSON_ParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"broken`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL, newTestKeeper(auth.Pair{}))

	var out map[string]any
	err := c.GetJSON(context.Background(), "/missions/m-1", &out)

	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestRequest_HTTPErrorCarriesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"ALREADY_SUBMITTED","message":"submission exists"}}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL, newTestKeeper(auth.Pair{}))

	_, err := c.Request(context.Background(), http.MethodPost, "/missions/m-1/submit", map[string]string{})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusConflict, httpErr.Status)
	assert.Contains(t, string(httpErr.Body), "ALREADY_SUBMITTED")
}

func TestUpload_MultipartPassthrough(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		gotBody = buf.Bytes()
		_, _ = w.Write([]byte(`{"url":"https://cdn.example.test/evidence.pcap"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL, newTestKeeper(auth.Pair{AccessToken: "at"}))

	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", "evidence.pcap")
	require.NoError(t, err)
	_, err = fw.Write([]byte("packet bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	var out struct {
		URL string `json:"url"`
	}
	err = c.Upload(context.Background(), "/uploads", body, mw.FormDataContentType(), &out)
	require.NoError(t, err)

	assert.Equal(t, mw.FormDataContentType(), gotContentType, "multipart boundary must pass through untouched")
	assert.Contains(t, string(gotBody), "packet bytes")
	assert.Equal(t, "https://cdn.example.test/evidence.pcap", out.URL)
}

func TestRequest_SetsRequestID(t *testing.T) {
	var gotRequestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL, newTestKeeper(auth.Pair{}))

	_, err := c.Request(context.Background(), http.MethodGet, "/missions", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, gotRequestID)
}
