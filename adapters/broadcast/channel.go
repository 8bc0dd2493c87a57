package broadcast

import (
	"context"
	"sync"

	"github.com/smallnest/chanx"
)

// subscriber 是單一訂閱者的無上限緩衝佇列，
// 慢速的訂閱者只會累積自己的佇列，不會卡住廣播者或其他訂閱者。
type subscriber[T any] struct {
	queue  *chanx.UnboundedChan[T]
	cancel context.CancelFunc
}

// Channel 管理所有訂閱者，並將訊息依呼叫順序廣播給每一個訂閱者。
type Channel[T any] struct {
	subscribers map[<-chan T]*subscriber[T]
	mu          sync.RWMutex
	bufferSize  int
	closed      bool
}

type channelOptions struct {
	bufferSize int
}

type ChannelOption func(*channelOptions)

// WithChannelBufferSize 設置每個訂閱者佇列的初始容量
func WithChannelBufferSize(size int) ChannelOption {
	return func(o *channelOptions) {
		o.bufferSize = size
	}
}

// NewChannel creates a new broadcast channel.
func NewChannel[T any](opts ...ChannelOption) *Channel[T] {
	options := channelOptions{bufferSize: 64}
	for _, opt := range opts {
		opt(&options)
	}
	if options.bufferSize <= 0 {
		options.bufferSize = 1
	}
	return &Channel[T]{
		subscribers: make(map[<-chan T]*subscriber[T]),
		bufferSize:  options.bufferSize,
	}
}

// Subscribe 建立新的訂閱並回傳唯讀通道。Channel 關閉後回傳已關閉的通道。
func (c *Channel[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		ch := make(chan T)
		close(ch)
		return ch
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber[T]{
		queue:  chanx.NewUnboundedChan[T](ctx, c.bufferSize),
		cancel: cancel,
	}
	c.subscribers[sub.queue.Out] = sub
	return sub.queue.Out
}

// Unsubscribe 移除訂閱，尚未讀取的訊息會被丟棄，通道隨後關閉。
func (c *Channel[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, exists := c.subscribers[ch]; exists {
		delete(c.subscribers, ch)
		sub.cancel()
	}
}

// UnsubscribeAll 關閉所有訂閱者，之後的訂閱會直接拿到已關閉的通道。
func (c *Channel[T]) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subscribers {
		sub.cancel()
	}
	clear(c.subscribers)
	c.closed = true
}

// Broadcast 將訊息放入所有訂閱者的佇列。
// 持有寫鎖放入，所以每個訂閱者看到的順序都和 Broadcast 完成的順序相同。
func (c *Channel[T]) Broadcast(message T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subscribers {
		sub.queue.In <- message
	}
}

// Len 回傳訂閱者數量
func (c *Channel[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}

// IsIdle 判斷 subscribers 是否為空。
func (c *Channel[T]) IsIdle() bool {
	return c.Len() == 0
}
