package auction

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"livebid/adapters/broadcast"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// memStore 是測試用的 IItemStore，可以針對單一拍賣品注入錯誤
type memStore struct {
	mu        sync.Mutex
	items     map[string]Item
	getErr    map[string]error
	saveErr   map[string]error
	deleteErr map[string]error
	listErr   error
}

var _ IItemStore = (*memStore)(nil)

func newMemStore(items ...Item) *memStore {
	s := &memStore{
		items:     make(map[string]Item),
		getErr:    make(map[string]error),
		saveErr:   make(map[string]error),
		deleteErr: make(map[string]error),
	}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return s
}

func (s *memStore) Get(_ context.Context, id string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getErr[id]; err != nil {
		return Item{}, err
	}
	item, ok := s.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (s *memStore) Save(_ context.Context, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveErr[item.ID]; err != nil {
		return err
	}
	s.items[item.ID] = item
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteErr[id]; err != nil {
		return false, err
	}
	_, ok := s.items[id]
	delete(s.items, id)
	return ok, nil
}

func (s *memStore) List(_ context.Context) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	items := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b Item) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return items, nil
}

func (s *memStore) setGetErr(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr[id] = err
}

func (s *memStore) setDeleteErr(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErr[id] = err
}

func (s *memStore) item(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	return item, ok
}

// recorder 訂閱 Hub 並保存收到的所有事件
type recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func record(t *testing.T, hub IHub) *recorder {
	t.Helper()
	ch := hub.Subscribe()
	r := &recorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for event := range ch {
			r.mu.Lock()
			r.events = append(r.events, event)
			r.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		hub.Unsubscribe(ch)
		<-r.done
	})
	return r
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *recorder) named(name string) []Event {
	var events []Event
	for _, event := range r.all() {
		if event.Name == name {
			events = append(events, event)
		}
	}
	return events
}

func (r *recorder) count(name string) int {
	return len(r.named(name))
}

// lastItems 回傳最後一次 itemsUpdated 的內容
func (r *recorder) lastItems() ([]Item, bool) {
	updates := r.named(EventItemsUpdated)
	if len(updates) == 0 {
		return nil, false
	}
	return updates[len(updates)-1].Data.([]Item), true
}

func newTestFloor(t *testing.T) *Floor {
	t.Helper()
	hub := broadcast.NewChannel[Event]()
	t.Cleanup(hub.UnsubscribeAll)
	return NewFloor(hub)
}

func newTestService(t *testing.T, store IItemStore, opts ...ServiceOption) (*Service, *recorder) {
	t.Helper()
	floor := newTestFloor(t)
	rec := record(t, floor.Hub)
	return NewService(store, floor, opts...), rec
}

func listedItem(id string, currentBid, buyNow, remaining int64) Item {
	return Item{
		ID:              id,
		Description:     "item " + id,
		CurrentBid:      currentBid,
		BuyNowPrice:     buyNow,
		RemainingTimeMs: remaining,
		Owner:           "owner",
		CreatedAt:       time.UnixMilli(1_700_000_000_000),
	}
}

func ids(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}
