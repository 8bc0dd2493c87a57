package auction

import (
	"context"
	"sync"
)

// KeyedLane 是行程內以 key 區分的互斥鎖。
// 同一個 key 的等待者依到達順序取得鎖，不同 key 之間互不影響。
type KeyedLane struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	sem  chan struct{}
	refs int
}

func NewKeyedLane() *KeyedLane {
	return &KeyedLane{
		lanes: make(map[string]*lane),
	}
}

// Lock 取得 key 的鎖，ctx 取消時放棄等待
func (l *KeyedLane) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{sem: make(chan struct{}, 1)}
		l.lanes[key] = ln
	}
	ln.refs++
	l.mu.Unlock()

	select {
	case ln.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, ln)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ln.sem
			l.release(key, ln)
		})
	}, nil
}

func (l *KeyedLane) release(key string, ln *lane) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, key)
	}
}

// Len 回傳目前被持有或等待中的 key 數量
func (l *KeyedLane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}
