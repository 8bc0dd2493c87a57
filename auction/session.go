package auction

import (
	"context"
	"log/slog"
	"sync"

	"github.com/smallnest/chanx"
)

// SessionState 是單一連線的生命週期狀態
type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateBound
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Identity 是連線建立時由 token 驗證出的身分
type Identity struct {
	Username string
}

// Session 代表一條已通過驗證的即時連線
type Session struct {
	ID       string
	identity Identity
	conn     IConn
	logger   *slog.Logger

	// mu 保護 state 與 username，綁定與關閉都必須持有
	mu       sync.Mutex
	state    SessionState
	username string

	outMu     sync.Mutex
	outClosed bool
	outbox    *chanx.UnboundedChan[Event]
	outCancel context.CancelFunc
}

func newSession(id string, identity Identity, conn IConn, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:        id,
		identity:  identity,
		conn:      conn,
		logger:    logger.With(slog.String("connectionID", id), slog.String("identity", identity.Username)),
		state:     StateAuthenticated,
		outbox:    chanx.NewUnboundedChan[Event](ctx, 16),
		outCancel: cancel,
	}
}

// State 回傳目前狀態
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username 回傳綁定的使用者，尚未綁定時為空字串
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// send 將事件放入這條連線專屬的佇列，連線關閉後回傳 false
func (s *Session) send(event Event) bool {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.outClosed {
		return false
	}
	s.outbox.In <- event
	return true
}

func (s *Session) closeOutbox() {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.outClosed {
		return
	}
	s.outClosed = true
	s.outCancel()
}

// writeLoop 是連線唯一的寫入者，依序送出廣播與私訊
func (s *Session) writeLoop(ctx context.Context, broadcasts <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-broadcasts:
			if !ok {
				return ErrSessionClosed
			}
			if err := s.conn.WriteEvent(ctx, event); err != nil {
				return err
			}
		case event, ok := <-s.outbox.Out:
			if !ok {
				return ErrSessionClosed
			}
			if err := s.conn.WriteEvent(ctx, event); err != nil {
				return err
			}
		}
	}
}
