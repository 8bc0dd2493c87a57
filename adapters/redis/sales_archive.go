package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"

	"livebid/auction"
)

var ErrArchiveClosed = errors.New("sales archive is closed")

type salesArchiveOptions struct {
	logger     *slog.Logger
	bufferSize int
	maxLen     int64
}

type SalesArchiveOption func(*salesArchiveOptions)

// WithSalesArchiveLogger 設置日誌記錄器
func WithSalesArchiveLogger(logger *slog.Logger) SalesArchiveOption {
	return func(o *salesArchiveOptions) {
		o.logger = logger
	}
}

// WithSalesArchiveBufferSize 設置緩衝大小
func WithSalesArchiveBufferSize(size int) SalesArchiveOption {
	return func(o *salesArchiveOptions) {
		o.bufferSize = size
	}
}

// WithSalesArchiveMaxLen 設置 stream 保留的大約筆數，0 表示不修剪
func WithSalesArchiveMaxLen(n int64) SalesArchiveOption {
	return func(o *salesArchiveOptions) {
		o.maxLen = n
	}
}

// SalesArchive 將成交的拍賣品寫入 Redis Stream。
// Archive 只負責排入佇列，實際的 XADD 在背景 goroutine 依序執行。
type SalesArchive struct {
	client   *redis.Client
	stream   string
	upstream *chanx.UnboundedChan[map[string]any]
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
	options  salesArchiveOptions
}

var _ auction.IArchiver = (*SalesArchive)(nil)

func NewSalesArchive(client *redis.Client, stream string, opts ...SalesArchiveOption) (*SalesArchive, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := salesArchiveOptions{
		logger:     slog.Default(),
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &SalesArchive{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "SalesArchive"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (a *SalesArchive) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.upstream = chanx.NewUnboundedChan[map[string]any](ctx, a.options.bufferSize)
	a.cancel = cancel
	a.closed = false
	a.logger.Info("starting sales archive")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.logger.Info("sales archive goroutine stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case message, ok := <-a.upstream.Out:
				if !ok {
					return
				}
				a.write(ctx, message)
			}
		}
	}()
}

func (a *SalesArchive) write(ctx context.Context, message map[string]any) {
	args := &redis.XAddArgs{
		Stream: a.stream,
		Values: message,
	}
	if a.options.maxLen > 0 {
		args.MaxLen = a.options.maxLen
		args.Approx = true
	}
	id, err := a.client.XAdd(ctx, args).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.logger.Error("fail to archive sold item", slog.Any("error", err))
		}
		return
	}
	a.logger.Debug("sold item archived", slog.String("entryID", id))
}

// Archive 將成交的拍賣品排入寫入佇列
func (a *SalesArchive) Archive(_ context.Context, item auction.Item) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrArchiveClosed
	}

	message, err := EncodeMessage(item)
	if err != nil {
		return fmt.Errorf("encode sold item error: %w", err)
	}
	a.upstream.In <- message
	return nil
}

func (a *SalesArchive) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.logger.Info("closing sales archive")
	a.closed = true
	// 關閉輸入後 Out 會在佇列清空時關閉，worker 寫完剩餘紀錄才結束
	close(a.upstream.In)
	a.wg.Wait()
	a.cancel()
	a.logger.Info("sales archive closed")
}

// ReadSales 讀取 stream 中的成交紀錄，count 為 0 時讀取全部
func ReadSales(ctx context.Context, client *redis.Client, stream string, count int64) ([]auction.Item, error) {
	const op = "redis.ReadSales"
	var (
		entries []redis.XMessage
		err     error
	)
	if count > 0 {
		entries, err = client.XRangeN(ctx, stream, "-", "+", count).Result()
	} else {
		entries, err = client.XRange(ctx, stream, "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read stream: %w", op, err)
	}

	items := make([]auction.Item, 0, len(entries))
	for _, entry := range entries {
		item, err := DecodeMessage[auction.Item](entry.Values)
		if err != nil {
			return nil, fmt.Errorf("%s: entry %s: %w", op, entry.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}
