package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"livebid/adapters/broadcast"
)

var errConnClosed = errors.New("connection closed")

// fakeConn 是記憶體中的 IConn，測試端透過 push 送出客戶端事件
type fakeConn struct {
	inbound   chan InboundEvent
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []Event
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan InboundEvent, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadEvent(_ context.Context) (InboundEvent, error) {
	select {
	case event := <-c.inbound:
		return event, nil
	case <-c.closed:
		return InboundEvent{}, errConnClosed
	}
}

func (c *fakeConn) WriteEvent(_ context.Context, event Event) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, name string, data any) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		require.NoError(t, err)
		raw = encoded
	}
	c.inbound <- InboundEvent{Name: name, Data: raw}
}

func (c *fakeConn) named(name string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var events []Event
	for _, event := range c.written {
		if event.Name == name {
			events = append(events, event)
		}
	}
	return events
}

type gatewayHarness struct {
	gateway *Gateway
	floor   *Floor
	hub     *broadcast.Channel[Event]
	store   *memStore
	rec     *recorder
}

func newGatewayHarness(t *testing.T, users IUserStore, items ...Item) *gatewayHarness {
	t.Helper()
	hub := broadcast.NewChannel[Event]()
	t.Cleanup(hub.UnsubscribeAll)
	floor := NewFloor(hub)
	rec := record(t, floor.Hub)
	store := newMemStore(items...)
	svc := NewService(store, floor)

	var seq int
	var mu sync.Mutex
	gateway := NewGateway(floor, svc, users, WithGatewayIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("conn-%d", seq)
	}))
	t.Cleanup(gateway.Close)
	return &gatewayHarness{gateway: gateway, floor: floor, hub: hub, store: store, rec: rec}
}

// serve 在背景執行一條連線，回傳的通道會收到 Serve 的結果
func (h *gatewayHarness) serve(username string) (*fakeConn, <-chan error) {
	conn := newFakeConn()
	done := make(chan error, 1)
	go func() {
		done <- h.gateway.Serve(context.Background(), conn, Identity{Username: username})
	}()
	return conn, done
}

func (h *gatewayHarness) waitBound(t *testing.T, username string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.floor.Presence.Connections(username)) == n
	}, time.Second, 5*time.Millisecond)
}

// waitSessions 等待 n 條連線都已訂閱廣播，另外一個訂閱者是 recorder
func (h *gatewayHarness) waitSessions(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.gateway.Len() == n && h.hub.Len() == n+1
	}, time.Second, 5*time.Millisecond)
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func newUsers(t *testing.T) *MockIUserStore {
	t.Helper()
	users := NewMockIUserStore(gomock.NewController(t))
	users.EXPECT().GetByUsername(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, username string) (User, error) {
			return User{ID: "id-" + username, Name: username + " name", Username: username}, nil
		}).AnyTimes()
	return users
}

func TestGateway_OnlineOffline(t *testing.T) {
	users := newUsers(t)
	gomock.InOrder(
		users.EXPECT().SetOnline(gomock.Any(), "alice", true).Return(nil),
		users.EXPECT().SetOnline(gomock.Any(), "alice", false).Return(nil),
	)
	h := newGatewayHarness(t, users)

	conn, done := h.serve("alice")
	conn.push(t, EventIdentify, IdentifyPayload{Username: "alice"})
	h.waitBound(t, "alice", 1)

	conn.Close()
	assert.Error(t, waitDone(t, done))

	require.Eventually(t, func() bool { return h.rec.count(EventUserOffline) == 1 }, time.Second, 5*time.Millisecond)
	events := h.rec.all()
	var names []string
	for _, event := range events {
		if event.Name == EventUserOnline || event.Name == EventUserOffline {
			names = append(names, event.Name)
		}
	}
	assert.Equal(t, []string{EventUserOnline, EventUserOffline}, names)
	assert.Equal(t, UserOnlinePayload{ID: "id-alice", Username: "alice", Name: "alice name"}, h.rec.named(EventUserOnline)[0].Data)
	assert.Equal(t, UserOfflinePayload{Username: "alice"}, h.rec.named(EventUserOffline)[0].Data)
	assert.Empty(t, h.floor.Presence.Online())
	assert.Zero(t, h.gateway.Len())
}

func TestGateway_UnboundSessionStaysSilent(t *testing.T) {
	// 沒有設定 SetOnline 的預期，任何呼叫都會讓測試失敗
	h := newGatewayHarness(t, newUsers(t))

	conn, done := h.serve("alice")
	conn.Close()
	assert.Error(t, waitDone(t, done))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.rec.count(EventUserOnline))
	assert.Zero(t, h.rec.count(EventUserOffline))
}

func TestGateway_MultipleSessions(t *testing.T) {
	users := newUsers(t)
	users.EXPECT().SetOnline(gomock.Any(), "alice", true).Return(nil).Times(1)
	users.EXPECT().SetOnline(gomock.Any(), "alice", false).Return(nil).Times(1)
	h := newGatewayHarness(t, users)

	first, firstDone := h.serve("alice")
	first.push(t, EventIdentify, "alice")
	h.waitBound(t, "alice", 1)
	second, secondDone := h.serve("alice")
	second.push(t, EventIdentify, nil)
	h.waitBound(t, "alice", 2)

	first.Close()
	waitDone(t, firstDone)
	h.waitBound(t, "alice", 1)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.rec.count(EventUserOffline), "alice still has a session")

	second.Close()
	waitDone(t, secondDone)
	require.Eventually(t, func() bool { return h.rec.count(EventUserOffline) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.rec.count(EventUserOnline))
}

func TestGateway_IdentifyMismatch(t *testing.T) {
	users := newUsers(t)
	users.EXPECT().SetOnline(gomock.Any(), "alice", gomock.Any()).Return(nil).AnyTimes()
	h := newGatewayHarness(t, users)

	conn, _ := h.serve("alice")
	conn.push(t, EventIdentify, IdentifyPayload{Username: "bob"})
	conn.push(t, EventIdentify, json.RawMessage(`{"username": 5}`))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.floor.Presence.Online())

	// 空的 identify 綁定 token 的使用者
	conn.push(t, EventIdentify, nil)
	h.waitBound(t, "alice", 1)
	assert.Empty(t, h.floor.Presence.Connections("bob"))
}

func TestGateway_Bid(t *testing.T) {
	h := newGatewayHarness(t, newUsers(t), listedItem("1", 250, 1000, 5000))

	bidder, _ := h.serve("bob")
	observer, _ := h.serve("carol")
	h.waitSessions(t, 2)

	bidder.push(t, EventBid, BidPayload{ItemKey: "1", Amount: 300})
	require.Eventually(t, func() bool {
		item, _ := h.store.item("1")
		return item.CurrentBid == 300
	}, time.Second, 5*time.Millisecond)

	item, _ := h.store.item("1")
	assert.Equal(t, "bob", item.WinningUser)

	// 觀察者也收到最新清單
	require.Eventually(t, func() bool {
		updates := observer.named(EventItemsUpdated)
		if len(updates) == 0 {
			return false
		}
		items := updates[len(updates)-1].Data.([]Item)
		return len(items) == 1 && items[0].CurrentBid == 300
	}, time.Second, 5*time.Millisecond)
}

func TestGateway_BidRejected(t *testing.T) {
	h := newGatewayHarness(t, newUsers(t), listedItem("1", 250, 1000, 5000))

	bidder, _ := h.serve("bob")
	observer, _ := h.serve("carol")

	bidder.push(t, EventBid, BidPayload{ItemKey: "1", Amount: 250})
	bidder.push(t, EventBid, BidPayload{ItemKey: "missing", Amount: 500})
	bidder.push(t, EventBuyNow, BuyNowPayload{ItemKey: "1", Username: "carol"})

	require.Eventually(t, func() bool { return len(bidder.named(EventBidRejected)) == 2 }, time.Second, 5*time.Millisecond)
	rejections := bidder.named(EventBidRejected)
	assert.Equal(t, BidRejectedPayload{ItemKey: "1", Reason: "BidTooLow"}, rejections[0].Data)
	assert.Equal(t, BidRejectedPayload{ItemKey: "missing", Reason: "NotFound"}, rejections[1].Data)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, observer.named(EventBidRejected), "rejection goes only to the bidder")
	assert.Len(t, bidder.named(EventBidRejected), 2, "mismatched actor is dropped silently")

	item, _ := h.store.item("1")
	assert.False(t, item.Sold)
	assert.Equal(t, int64(250), item.CurrentBid)
}

func TestGateway_BuyNow(t *testing.T) {
	h := newGatewayHarness(t, newUsers(t), listedItem("1", 250, 1000, 5000))

	buyer, _ := h.serve("bob")
	buyer.push(t, EventBuyNow, BuyNowPayload{ItemKey: "1", Username: "bob"})

	require.Eventually(t, func() bool { return h.rec.count(EventItemSold) == 1 }, time.Second, 5*time.Millisecond)
	sold := h.rec.named(EventItemSold)[0].Data.(Item)
	assert.Equal(t, "bob", sold.WinningUser)
	assert.Equal(t, int64(1000), sold.CurrentBid)
	_, ok := h.store.item("1")
	assert.False(t, ok)
}

func TestGateway_BuyNowDeleteFailure(t *testing.T) {
	h := newGatewayHarness(t, newUsers(t), listedItem("1", 250, 1000, 5000))
	h.store.setDeleteErr("1", assert.AnError)

	buyer, buyerDone := h.serve("bob")
	buyer.push(t, EventBuyNow, BuyNowPayload{ItemKey: "1"})

	require.Eventually(t, func() bool {
		items, ok := h.rec.lastItems()
		return h.rec.count(EventItemSold) == 1 && ok && len(items) == 0
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, buyer.named(EventBidRejected), "the buyer won the item")
	select {
	case err := <-buyerDone:
		t.Fatalf("session closed after a sale: %v", err)
	default:
	}
}

func TestGateway_RemoveItem(t *testing.T) {
	h := newGatewayHarness(t, newUsers(t), listedItem("1", 250, 1000, 5000))

	stranger, strangerDone := h.serve("bob")
	stranger.push(t, EventRemoveItem, RemoveItemPayload{ItemKey: "1"})
	stranger.push(t, EventRemoveItem, RemoveItemPayload{ItemKey: "missing"})

	owner, _ := h.serve("owner")
	owner.push(t, EventRemoveItem, RemoveItemPayload{ItemKey: "1"})

	require.Eventually(t, func() bool { return h.rec.count(EventItemRemoved) == 1 }, time.Second, 5*time.Millisecond)
	_, ok := h.store.item("1")
	assert.False(t, ok)

	select {
	case err := <-strangerDone:
		t.Fatalf("refused removal closed the session: %v", err)
	default:
	}
}

func TestGateway_SendMessage(t *testing.T) {
	users := newUsers(t)
	users.EXPECT().SetOnline(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	h := newGatewayHarness(t, users)

	alice, _ := h.serve("alice")
	bob, _ := h.serve("bob")
	bob.push(t, EventIdentify, nil)
	h.waitBound(t, "bob", 1)

	alice.push(t, EventSendMessage, SendMessagePayload{To: "bob", Message: "hello"})
	alice.push(t, EventSendMessage, SendMessagePayload{To: "nobody", Message: "hello"})

	require.Eventually(t, func() bool { return len(bob.named(EventReceiveMessage)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, MessagePayload{Sender: "alice", Message: "hello"}, bob.named(EventReceiveMessage)[0].Data)
	assert.Empty(t, alice.named(EventReceiveMessage))
}

func TestGateway_Logout(t *testing.T) {
	users := newUsers(t)
	users.EXPECT().SetOnline(gomock.Any(), "alice", true).Return(nil)
	users.EXPECT().SetOnline(gomock.Any(), "alice", false).Return(nil)
	h := newGatewayHarness(t, users)

	conn, done := h.serve("alice")
	conn.push(t, EventIdentify, nil)
	conn.push(t, EventLogout, nil)

	assert.NoError(t, waitDone(t, done))
	require.Eventually(t, func() bool {
		return h.rec.count(EventUserOnline) == 1 && h.rec.count(EventUserOffline) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestGateway_UnknownEventKeepsSession(t *testing.T) {
	users := newUsers(t)
	users.EXPECT().SetOnline(gomock.Any(), "alice", gomock.Any()).Return(nil).AnyTimes()
	h := newGatewayHarness(t, users)

	conn, _ := h.serve("alice")
	conn.push(t, "dance", nil)
	conn.push(t, EventBid, nil)
	conn.push(t, EventIdentify, nil)
	h.waitBound(t, "alice", 1)
}

// 綁定與關閉同時發生時，上下線事件仍然成對出現
func TestGateway_BindCloseRace(t *testing.T) {
	users := newUsers(t)
	users.EXPECT().SetOnline(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	h := newGatewayHarness(t, users)

	const sessions = 30
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, done := h.serve("alice")
			conn.push(t, EventIdentify, nil)
			if i%2 == 0 {
				time.Sleep(time.Millisecond)
			}
			conn.Close()
			<-done
		}()
	}
	wg.Wait()

	assert.Empty(t, h.floor.Presence.Online())
	require.Eventually(t, func() bool {
		return h.rec.count(EventUserOnline) == h.rec.count(EventUserOffline)
	}, time.Second, 5*time.Millisecond)

	// 事件必須交替出現
	var online bool
	for _, event := range h.rec.all() {
		switch event.Name {
		case EventUserOnline:
			require.False(t, online, "userOnline twice in a row")
			online = true
		case EventUserOffline:
			require.True(t, online, "userOffline without userOnline")
			online = false
		}
	}
	assert.False(t, online)
}

func TestGateway_Close(t *testing.T) {
	h := newGatewayHarness(t, newUsers(t))

	_, first := h.serve("alice")
	_, second := h.serve("bob")
	h.waitSessions(t, 2)

	h.gateway.Close()
	waitDone(t, first)
	waitDone(t, second)
	assert.Zero(t, h.gateway.Len())
}
