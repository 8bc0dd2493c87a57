package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type serviceOptions struct {
	logger   *slog.Logger
	locker   ILocker
	archiver IArchiver
	now      func() time.Time
}

type ServiceOption func(*serviceOptions)

// WithServiceLogger 設置日誌記錄器
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithServiceLocker 設置拍賣品的互斥鎖，預設為行程內的 KeyedLane
func WithServiceLocker(locker ILocker) ServiceOption {
	return func(o *serviceOptions) {
		o.locker = locker
	}
}

// WithServiceArchiver 設置成交紀錄的保存方式
func WithServiceArchiver(archiver IArchiver) ServiceOption {
	return func(o *serviceOptions) {
		o.archiver = archiver
	}
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(o *serviceOptions) {
		o.now = now
	}
}

// Service 負責所有會改變拍賣品狀態的操作。
// 每個操作都在該拍賣品的 lane 內對 store 做 read-modify-write，
// 成功後才把結果交給 Hub 廣播。
type Service struct {
	store    IItemStore
	floor    *Floor
	locker   ILocker
	archiver IArchiver
	logger   *slog.Logger
	now      func() time.Time

	// publishMu 讓清單快照與成交、移除事件依序廣播，後送出的快照不會比先送出的舊
	publishMu sync.Mutex
}

func NewService(store IItemStore, floor *Floor, opts ...ServiceOption) *Service {
	options := serviceOptions{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.locker == nil {
		options.locker = NewKeyedLane()
	}

	return &Service{
		store:    store,
		floor:    floor,
		locker:   options.locker,
		archiver: options.archiver,
		logger:   options.logger.With(slog.String("caller", "AuctionService")),
		now:      options.now,
	}
}

// Listing 是建立拍賣品的請求
type Listing struct {
	Description     string
	CurrentBid      int64
	BuyNowPrice     int64
	RemainingTimeMs int64
	Owner           string
}

// CreateItem 建立新的拍賣品並廣播最新清單
func (s *Service) CreateItem(ctx context.Context, listing Listing) (Item, error) {
	const op = "auction.Service.CreateItem"
	if listing.Description == "" || listing.Owner == "" ||
		listing.CurrentBid < 0 || listing.BuyNowPrice < 0 || listing.RemainingTimeMs <= 0 {
		return Item{}, fmt.Errorf("%s: %w", op, ErrValidation)
	}
	if listing.BuyNowPrice > 0 && listing.BuyNowPrice <= listing.CurrentBid {
		return Item{}, fmt.Errorf("%s: %w: buy-now price must exceed the starting bid", op, ErrValidation)
	}

	item := Item{
		ID:              uuid.NewString(),
		Description:     listing.Description,
		CurrentBid:      listing.CurrentBid,
		BuyNowPrice:     listing.BuyNowPrice,
		RemainingTimeMs: listing.RemainingTimeMs,
		Owner:           listing.Owner,
		CreatedAt:       s.now(),
	}

	unlock, err := s.locker.Lock(ctx, item.ID)
	if err != nil {
		return Item{}, fmt.Errorf("%s: failed to acquire item lane: %w", op, err)
	}
	defer unlock()

	if err := s.store.Save(ctx, item); err != nil {
		return Item{}, fmt.Errorf("%s: failed to save item: %w", op, err)
	}
	s.logger.Info("item listed", slog.String("itemID", item.ID), slog.String("owner", item.Owner))
	s.publishItems(ctx)
	return item, nil
}

// Items 回傳尚未成交的拍賣品
func (s *Service) Items(ctx context.Context) ([]Item, error) {
	const op = "auction.Service.Items"
	items, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list items: %w", op, err)
	}
	return lo.Filter(items, func(item Item, _ int) bool { return !item.Sold }), nil
}

// PlaceBid 對拍賣品出價
func (s *Service) PlaceBid(ctx context.Context, itemKey string, amount int64, actingUser string) (Item, Outcome, error) {
	const op = "auction.Service.PlaceBid"
	unlock, err := s.locker.Lock(ctx, itemKey)
	if err != nil {
		return Item{}, 0, fmt.Errorf("%s: failed to acquire item lane: %w", op, err)
	}
	defer unlock()

	item, err := s.store.Get(ctx, itemKey)
	if err != nil {
		return Item{}, 0, fmt.Errorf("%s: %w", op, err)
	}
	return s.resolveLocked(ctx, item, amount, actingUser)
}

// BuyNow 以直購價出價
func (s *Service) BuyNow(ctx context.Context, itemKey string, actingUser string) (Item, error) {
	const op = "auction.Service.BuyNow"
	unlock, err := s.locker.Lock(ctx, itemKey)
	if err != nil {
		return Item{}, fmt.Errorf("%s: failed to acquire item lane: %w", op, err)
	}
	defer unlock()

	item, err := s.store.Get(ctx, itemKey)
	if err != nil {
		return Item{}, fmt.Errorf("%s: %w", op, err)
	}
	if !item.HasBuyNow() {
		return item, fmt.Errorf("%s: %w", op, ErrNoBuyNowPrice)
	}
	sold, _, err := s.resolveLocked(ctx, item, item.BuyNowPrice, actingUser)
	return sold, err
}

// resolveLocked 必須在持有拍賣品的鎖時呼叫
func (s *Service) resolveLocked(ctx context.Context, item Item, amount int64, actingUser string) (Item, Outcome, error) {
	const op = "auction.Service.resolve"
	updated, outcome, err := ApplyBid(item, amount, actingUser)
	if err != nil {
		s.logger.Debug("bid rejected",
			slog.String("itemID", item.ID), slog.String("user", actingUser),
			slog.Int64("amount", amount), slog.Any("reason", err))
		return item, 0, fmt.Errorf("%s: %w", op, err)
	}

	switch outcome {
	case OutcomeBuyNow:
		if err := s.sellLocked(ctx, updated); err != nil {
			return item, 0, fmt.Errorf("%s: %w", op, err)
		}
		s.logger.Info("item sold by buy-now",
			slog.String("itemID", updated.ID), slog.String("winner", actingUser), slog.Int64("amount", amount))
	default:
		if err := s.store.Save(ctx, updated); err != nil {
			return item, 0, fmt.Errorf("%s: failed to save item: %w", op, err)
		}
		s.logger.Info("higher bid accepted",
			slog.String("itemID", updated.ID), slog.String("user", actingUser), slog.Int64("amount", amount))
	}

	s.publishItems(ctx)
	return updated, outcome, nil
}

// sellLocked 保存成交狀態、封存、廣播成交，最後從拍賣清單移除
func (s *Service) sellLocked(ctx context.Context, item Item) error {
	if err := s.store.Save(ctx, item); err != nil {
		return fmt.Errorf("failed to save sold item: %w", err)
	}
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, item); err != nil {
			s.logger.Warn("fail to archive sold item", slog.String("itemID", item.ID), slog.Any("error", err))
		}
	}
	s.broadcast(Event{Name: EventItemSold, Data: item})
	// NOTE: 刪除失敗時拍賣品會以 sold 狀態留在 store，由下一次 tick 清除，不會再次廣播成交
	if _, err := s.store.Delete(ctx, item.ID); err != nil {
		s.logger.Warn("fail to delete sold item, deferred to next tick",
			slog.String("itemID", item.ID), slog.Any("error", err))
	}
	return nil
}

// RemoveItem 由擁有者移除拍賣品
func (s *Service) RemoveItem(ctx context.Context, itemKey string, actingUser string) error {
	const op = "auction.Service.RemoveItem"
	unlock, err := s.locker.Lock(ctx, itemKey)
	if err != nil {
		return fmt.Errorf("%s: failed to acquire item lane: %w", op, err)
	}
	defer unlock()

	item, err := s.store.Get(ctx, itemKey)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := ApplyRemoval(item, actingUser); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	deleted, err := s.store.Delete(ctx, itemKey)
	if err != nil {
		return fmt.Errorf("%s: failed to delete item: %w", op, err)
	}
	if !deleted {
		return fmt.Errorf("%s: %w", op, ErrItemNotFound)
	}

	s.logger.Info("item removed", slog.String("itemID", itemKey), slog.String("user", actingUser))
	s.broadcast(Event{Name: EventItemRemoved, Data: ItemRemovedPayload{ItemKey: itemKey}})
	s.publishItems(ctx)
	return nil
}

// age 由 Clock 呼叫，在拍賣品的 lane 內扣除剩餘時間
func (s *Service) age(ctx context.Context, id string, elapsed time.Duration) error {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to acquire item lane: %w", err)
	}
	defer unlock()

	item, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrItemNotFound) {
		// 與出價或移除競爭時已被處理
		return nil
	}
	if err != nil {
		return err
	}
	if item.Sold {
		_, err := s.store.Delete(ctx, id)
		return err
	}

	aged, expired := Age(item, elapsed)
	if !expired {
		return s.store.Save(ctx, aged)
	}
	if err := s.sellLocked(ctx, aged); err != nil {
		return err
	}
	s.logger.Info("item sold by timeout", slog.String("itemID", id), slog.String("winner", aged.WinningUser))
	return nil
}

// publishItems 廣播目前的拍賣清單。
// 讀取清單與廣播都在 publishMu 內完成，快照依讀取順序送出。
func (s *Service) publishItems(ctx context.Context) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	items, err := s.Items(ctx)
	if err != nil {
		s.logger.Error("fail to list items for broadcast", slog.Any("error", err))
		return
	}
	s.floor.Hub.Broadcast(itemsUpdated(items))
}

func (s *Service) broadcast(event Event) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	s.floor.Hub.Broadcast(event)
}
