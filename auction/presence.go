package auction

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Presence 記錄連線與使用者之間的雙向對應。
// byConn 與 byUser 永遠互為反向關係，任何修改都在同一把鎖內成對完成。
// 同一個使用者可以同時擁有多條連線，只有第一條綁定與最後一條解除會改變上線狀態。
type Presence struct {
	mu     sync.RWMutex
	byConn map[string]string
	byUser map[string]map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{
		byConn: make(map[string]string),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Bind 將連線綁定到使用者。
// first 表示此使用者原本沒有任何連線，也就是剛上線。
func (p *Presence) Bind(connID, username string) (first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current, ok := p.byConn[connID]; ok {
		if current == username {
			return false
		}
		p.unbindLocked(connID)
	}

	conns, ok := p.byUser[username]
	if !ok {
		conns = make(map[string]struct{})
		p.byUser[username] = conns
	}
	first = len(conns) == 0
	conns[connID] = struct{}{}
	p.byConn[connID] = username
	return first
}

// Unbind 解除連線的綁定。
// last 表示這是該使用者最後一條連線，ok 為 false 表示連線從未綁定。
func (p *Presence) Unbind(connID string) (username string, last bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	username, ok = p.byConn[connID]
	if !ok {
		return "", false, false
	}
	last = p.unbindLocked(connID)
	return username, last, true
}

func (p *Presence) unbindLocked(connID string) (last bool) {
	username := p.byConn[connID]
	delete(p.byConn, connID)
	conns := p.byUser[username]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(p.byUser, username)
		return true
	}
	return false
}

// Username 查詢連線綁定的使用者
func (p *Presence) Username(connID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	username, ok := p.byConn[connID]
	return username, ok
}

// Connections 列出使用者目前所有的連線
func (p *Presence) Connections(username string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conns := lo.Keys(p.byUser[username])
	slices.Sort(conns)
	return conns
}

// Online 列出目前在線的使用者
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := lo.Keys(p.byUser)
	slices.Sort(users)
	return users
}
