package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"livebid/auction"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	impl   *ServerImpl
	router *gin.Engine
	users  *auction.MockIUserStore
	redis  *miniredis.Miniredis
}

func testConfig(t *testing.T) ServerConfig {
	t.Helper()
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return ServerConfig{
		Auth: AuthConfig{
			PrivateKey:     privateKey,
			Issuer:         "livebid-test",
			Audience:       "livebid",
			ExpireDuration: time.Hour,
		},
		Redis: RedisConfig{
			KeyPrefix:  "test:",
			StreamKeys: RedisStreamKeys{Sales: "test:sales"},
		},
		Auction: AuctionConfig{
			// 測試中由呼叫端自行觸發 tick
			TickInterval: time.Hour,
		},
		SSE: SSEConfig{KeepAlive: time.Second},
	}
}

func setupServer(t *testing.T, mutate ...func(*ServerConfig)) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	users := auction.NewMockIUserStore(gomock.NewController(t))

	config := testConfig(t)
	for _, fn := range mutate {
		fn(&config)
	}
	impl, err := newServer(config, client, users)
	require.NoError(t, err)
	require.NoError(t, impl.Start())
	t.Cleanup(impl.Close)

	router := gin.New()
	impl.RegisterHandlers(router)
	return &testServer{impl: impl, router: router, users: users, redis: mr}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequestWithContext(context.Background(), method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) token(t *testing.T, username string) string {
	t.Helper()
	token, err := s.impl.issueToken(auction.User{ID: "id-" + username, Username: username})
	require.NoError(t, err)
	return token
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// allowPresence 讓即時連線可以自由查詢與更新使用者狀態
func (s *testServer) allowPresence() {
	s.users.EXPECT().GetByUsername(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, username string) (auction.User, error) {
			return auction.User{ID: "id-" + username, Name: username, Username: username}, nil
		}).AnyTimes()
	s.users.EXPECT().SetOnline(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}
