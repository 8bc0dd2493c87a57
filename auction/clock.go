package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"
)

type clockOptions struct {
	logger      *slog.Logger
	interval    time.Duration
	concurrency int
	itemTimeout time.Duration
}

type ClockOption func(*clockOptions)

// WithClockLogger 設置日誌記錄器
func WithClockLogger(logger *slog.Logger) ClockOption {
	return func(o *clockOptions) {
		o.logger = logger
	}
}

// WithClockInterval 設置每次 tick 的間隔，同時也是每次扣除的剩餘時間
func WithClockInterval(d time.Duration) ClockOption {
	return func(o *clockOptions) {
		o.interval = d
	}
}

// WithClockConcurrency 設置同一個 tick 內同時處理的拍賣品數量
func WithClockConcurrency(n int) ClockOption {
	return func(o *clockOptions) {
		o.concurrency = n
	}
}

// WithClockItemTimeout 設置單一拍賣品在一次 tick 內的處理時限
func WithClockItemTimeout(d time.Duration) ClockOption {
	return func(o *clockOptions) {
		o.itemTimeout = d
	}
}

// Clock 定期扣除所有拍賣品的剩餘時間，並處理逾時成交
type Clock struct {
	service   *Service
	options   clockOptions
	logger    *slog.Logger
	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
}

func NewClock(service *Service, opts ...ClockOption) *Clock {
	options := clockOptions{
		logger:      slog.Default(),
		interval:    time.Second,
		concurrency: 16,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.interval <= 0 {
		options.interval = time.Second
	}
	if options.concurrency <= 0 {
		options.concurrency = 1
	}
	if options.itemTimeout <= 0 {
		options.itemTimeout = options.interval
	}

	return &Clock{
		service: service,
		options: options,
		logger:  options.logger.With(slog.String("caller", "AuctionClock")),
	}
}

// Start 啟動排程，重複呼叫不會建立第二個排程
func (c *Clock) Start() error {
	const op = "auction.Clock.Start"
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler != nil {
		return nil
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("%s: failed to create scheduler: %w", op, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	_, err = scheduler.NewJob(
		gocron.DurationJob(c.options.interval),
		gocron.NewTask(func() {
			if err := c.Tick(ctx); err != nil {
				c.logger.Error("tick failed", slog.Any("error", err))
			}
		}),
		gocron.WithName("auction-clock"),
		// 上一次 tick 還沒結束時不會重疊執行
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = scheduler.Shutdown()
		return fmt.Errorf("%s: failed to create job: %w", op, err)
	}

	c.scheduler = scheduler
	c.ctx = ctx
	c.cancel = cancel
	scheduler.Start()
	c.logger.Info("auction clock started", slog.Duration("interval", c.options.interval))
	return nil
}

// Close 停止排程並等待執行中的 tick 結束
func (c *Clock) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler == nil {
		return nil
	}
	c.cancel()
	err := c.scheduler.Shutdown()
	c.scheduler = nil
	c.logger.Info("auction clock stopped")
	return err
}

// Tick 執行一次拍賣時鐘。
// 單一拍賣品失敗只會記錄並略過該拍賣品，所有拍賣品處理完後才廣播一次清單。
func (c *Clock) Tick(ctx context.Context) error {
	const op = "auction.Clock.Tick"
	items, err := c.service.store.List(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to list items: %w", op, err)
	}

	var (
		g      errgroup.Group
		failed atomic.Int64
	)
	g.SetLimit(c.options.concurrency)
	for _, item := range items {
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(ctx, c.options.itemTimeout)
			defer cancel()
			if err := c.service.age(itemCtx, item.ID, c.options.interval); err != nil {
				failed.Add(1)
				c.logger.Error("fail to age item", slog.String("itemID", item.ID), slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		c.logger.Warn("tick finished with failures", slog.Int64("failed", n), slog.Int("items", len(items)))
	}
	c.service.publishItems(ctx)
	return nil
}
