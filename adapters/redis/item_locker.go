package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"livebid/auction"
)

type itemLockerOptions struct {
	prefix        string
	renewInterval time.Duration
	retryDelay    time.Duration
	expiry        time.Duration
	skipLockError bool
	logger        *slog.Logger
}

type ItemLockerOption func(*itemLockerOptions)

// WithItemLockerPrefix 設置鎖的 key 前綴
func WithItemLockerPrefix(prefix string) ItemLockerOption {
	return func(o *itemLockerOptions) {
		o.prefix = prefix
	}
}

// WithItemLockerRenewInterval 設置自動續期間隔
func WithItemLockerRenewInterval(d time.Duration) ItemLockerOption {
	return func(o *itemLockerOptions) {
		o.renewInterval = d
	}
}

// WithItemLockerRetryDelay 設置重試延遲
func WithItemLockerRetryDelay(d time.Duration) ItemLockerOption {
	return func(o *itemLockerOptions) {
		o.retryDelay = d
	}
}

// WithItemLockerExpiry 設置鎖過期時間
func WithItemLockerExpiry(d time.Duration) ItemLockerOption {
	return func(o *itemLockerOptions) {
		o.expiry = d
	}
}

// WithItemLockerSkipLockError 設置是否忽略 Redis 通訊錯誤並持續重試
func WithItemLockerSkipLockError(skip bool) ItemLockerOption {
	return func(o *itemLockerOptions) {
		o.skipLockError = skip
	}
}

func WithItemLockerLogger(logger *slog.Logger) ItemLockerOption {
	return func(o *itemLockerOptions) {
		o.logger = logger
	}
}

// ItemLocker 以 redsync 實作 auction.ILocker，
// 持有期間會在背景自動續期，直到 unlock 被呼叫。
type ItemLocker struct {
	rs      *redsync.Redsync
	options itemLockerOptions
	logger  *slog.Logger
}

var _ auction.ILocker = (*ItemLocker)(nil)

// NewItemLocker 建立以 Redis 為後端的拍賣品鎖
func NewItemLocker(client *redis.Client, opts ...ItemLockerOption) *ItemLocker {
	// 默認選項
	options := itemLockerOptions{
		prefix:     "lock:",
		expiry:     8 * time.Second,
		retryDelay: 50 * time.Millisecond,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	// 如果未設置續期間隔，使用過期時間的1/3
	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}

	return &ItemLocker{
		rs:      redsync.New(goredis.NewPool(client)),
		options: options,
		logger:  options.logger.With(slog.String("caller", "ItemLocker")),
	}
}

// Lock 取得 key 的鎖，取得失敗時每隔 retryDelay 重試直到 ctx 結束
func (l *ItemLocker) Lock(ctx context.Context, key string) (func(), error) {
	const op = "redis.ItemLocker.Lock"
	mutex := l.rs.NewMutex(
		l.options.prefix+key,
		redsync.WithExpiry(l.options.expiry),
		redsync.WithTries(1),
		redsync.WithRetryDelay(l.options.retryDelay),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		err := mutex.LockContext(ctx)
		if err == nil {
			break
		}
		// 只有在鎖被占用或設置了忽略錯誤(skipLockError)時才重試
		var commErr *redsync.RedisError
		if !l.options.skipLockError && errors.As(err, &commErr) {
			return nil, fmt.Errorf("%s: failed to acquire lock: %w", op, err)
		}
		timer.Reset(l.options.retryDelay)
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.autoRenew(renewCtx, mutex)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
			if ok, err := mutex.UnlockContext(context.Background()); err != nil || !ok {
				l.logger.Warn("fail to release lock", slog.String("key", mutex.Name()), slog.Any("error", err))
			}
		})
	}, nil
}

func (l *ItemLocker) autoRenew(ctx context.Context, mutex *redsync.Mutex) {
	ticker := time.NewTicker(l.options.renewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := mutex.ExtendContext(ctx)
			if err != nil || !ok {
				if ctx.Err() == nil {
					l.logger.Warn("fail to extend lock", slog.String("key", mutex.Name()), slog.Any("error", err))
				}
				return
			}
		}
	}
}
