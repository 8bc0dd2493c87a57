package redis

import (
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"livebid/auction"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// compareItem 比較兩個拍賣品，時間只比較是否為同一時刻
func compareItem(t *testing.T, expected, actual auction.Item) {
	t.Helper()
	assert.True(t, expected.CreatedAt.Equal(actual.CreatedAt),
		"CreatedAt times are not equal. Expected: %v, Got: %v", expected.CreatedAt, actual.CreatedAt)
	expected.CreatedAt = actual.CreatedAt
	assert.Equal(t, expected, actual)
}
