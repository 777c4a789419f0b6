package restapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/core/auth"
	"github.com/trezcool/masomo/console/tests"
)

func newTestClient(url string) *Client {
	return NewClient(core.APIConfig{
		BaseURL:       url + "/",
		Timeout:       time.Second,
		RetryAttempts: 2,
		RetryDelay:    5 * time.Millisecond,
	}, new(testutil.Logger))
}

func TestDecodeEnvelope(t *testing.T) {
	type pair struct {
		Token string `json:"token"`
	}
	tests := []struct {
		name string
		body string
		want pair
	}{
		{name: "raw", body: `{"token":"a"}`, want: pair{Token: "a"}},
		{name: "wrapped", body: `{"data":{"token":"b"},"message":"ok"}`, want: pair{Token: "b"}},
		{name: "null data", body: `{"data":null,"token":"c"}`, want: pair{Token: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got pair
			require.NoError(t, decodeEnvelope([]byte(tt.body), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status         int
		wantCredential bool
		wantNetwork    bool
		wantErr        bool
	}{
		{status: http.StatusOK},
		{status: http.StatusNoContent},
		{status: http.StatusBadRequest, wantCredential: true, wantErr: true},
		{status: http.StatusUnauthorized, wantCredential: true, wantErr: true},
		{status: http.StatusForbidden, wantCredential: true, wantErr: true},
		{status: http.StatusNotFound, wantErr: true},
		{status: http.StatusTooManyRequests, wantNetwork: true, wantErr: true},
		{status: http.StatusInternalServerError, wantNetwork: true, wantErr: true},
		{status: http.StatusBadGateway, wantNetwork: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := classify("GET /x", tt.status, []byte(`{"message":"nope"}`))
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.wantCredential, core.IsCredential(err))
			assert.Equal(t, tt.wantNetwork, core.IsNetwork(err))
		})
	}

	err := classify("POST /auth/login", http.StatusUnauthorized, []byte(`{"detail":"bad password"}`))
	assert.Equal(t, "bad password", err.Error())
}

func TestClient_Do(t *testing.T) {
	var calls int32
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		gotAuth.Store(r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/flaky":
			if n < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"data":{"ok":true}}`))
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		case "/denied":
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)
	ctx := context.Background()

	t.Run("retries until success", func(t *testing.T) {
		atomic.StoreInt32(&calls, 0)
		var out struct {
			OK bool `json:"ok"`
		}
		require.NoError(t, c.Do(ctx, http.MethodGet, "/flaky", "tok", nil, &out))
		assert.True(t, out.OK)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
		assert.Equal(t, "Bearer tok", gotAuth.Load())
	})

	t.Run("gives up after the configured retries", func(t *testing.T) {
		atomic.StoreInt32(&calls, 0)
		err := c.Do(ctx, http.MethodGet, "/down", "", nil, nil)
		assert.True(t, core.IsNetwork(err))
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("credential errors are not retried", func(t *testing.T) {
		atomic.StoreInt32(&calls, 0)
		err := c.Do(ctx, http.MethodGet, "/denied", "", nil, nil)
		assert.True(t, core.IsCredential(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestClient_Do_transportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newTestClient(url).Do(context.Background(), http.MethodGet, "/x", "", nil, nil)
	assert.True(t, core.IsNetwork(err))
}

func TestAuthBackend(t *testing.T) {
	backend := testutil.NewBackend(t)
	backend.AddAccount(t, "1", "Jane", "jane@test.cd", "pwd", "teacher", "a")
	backend.Envelope(true)

	ab := NewAuthBackend(newTestClient(backend.URL))
	ctx := context.Background()

	res, err := ab.Login(ctx, auth.Credentials{Email: "jane@test.cd", Password: "pwd"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "Jane", res.User.Name)
	assert.Equal(t, []string{"a"}, res.Permissions)

	prof, err := ab.Profile(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, "1", prof.User.ID)

	_, err = ab.Profile(ctx, "")
	assert.Error(t, err)

	pair, err := ab.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.Token)

	_, err = ab.Refresh(ctx, res.RefreshToken)
	assert.True(t, core.IsCredential(err), "refresh tokens are single use")

	require.NoError(t, ab.Logout(ctx, pair.Token, pair.RefreshToken))
	_, err = ab.Profile(ctx, pair.Token)
	assert.True(t, core.IsCredential(err))

	data, err := newTestClient(backend.URL).Fetch(ctx, "/attendance", res.Token)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"section": "/attendance"}, data)
}
