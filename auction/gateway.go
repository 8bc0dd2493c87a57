package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type gatewayOptions struct {
	logger *slog.Logger
	newID  func() string
}

type GatewayOption func(*gatewayOptions)

// WithGatewayLogger 設置日誌記錄器
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(o *gatewayOptions) {
		o.logger = logger
	}
}

// WithGatewayIDGenerator 設置 connectionID 的產生方式
func WithGatewayIDGenerator(fn func() string) GatewayOption {
	return func(o *gatewayOptions) {
		o.newID = fn
	}
}

// Gateway 管理所有已驗證的連線：綁定使用者、分派客戶端事件、轉送廣播。
type Gateway struct {
	floor   *Floor
	service *Service
	users   IUserStore
	logger  *slog.Logger
	newID   func() string

	// userLane 讓同一個使用者的上下線轉換與其廣播依序發生
	userLane *KeyedLane

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewGateway(floor *Floor, service *Service, users IUserStore, opts ...GatewayOption) *Gateway {
	options := gatewayOptions{
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Gateway{
		floor:    floor,
		service:  service,
		users:    users,
		logger:   options.logger.With(slog.String("caller", "SessionGateway")),
		newID:    options.newID,
		userLane: NewKeyedLane(),
		sessions: make(map[string]*Session),
	}
}

// Serve 執行一條已驗證連線的完整生命週期，直到連線中斷或 ctx 取消才返回。
func (g *Gateway) Serve(ctx context.Context, conn IConn, identity Identity) error {
	g.wg.Add(1)
	defer g.wg.Done()

	s := newSession(g.newID(), identity, conn, g.logger)
	g.register(s)
	defer g.unregister(s)
	s.logger.Debug("session opened")

	broadcasts := g.floor.Hub.Subscribe()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		// 寫入失敗代表連線已斷，關閉連線讓讀取端返回
		defer conn.Close()
		if err := s.writeLoop(ctx, broadcasts); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("write loop stopped", slog.Any("error", err))
		}
	}()

	// ctx 取消時關閉連線，讓阻塞中的讀取返回
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	readErr := g.readLoop(ctx, s)

	g.closeSession(context.WithoutCancel(ctx), s)
	cancel()
	g.floor.Hub.Unsubscribe(broadcasts)
	s.closeOutbox()
	wg.Wait()

	s.logger.Debug("session closed", slog.Any("reason", readErr))
	if errors.Is(readErr, ErrSessionClosed) {
		return nil
	}
	return readErr
}

func (g *Gateway) readLoop(ctx context.Context, s *Session) error {
	for {
		event, err := s.conn.ReadEvent(ctx)
		if err != nil {
			return err
		}
		err = g.dispatch(ctx, s, event)
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionClosed):
			return err
		case errors.Is(err, ErrValidation):
			s.logger.Debug("drop malformed event", slog.String("event", event.Name), slog.Any("error", err))
		default:
			s.logger.Warn("fail to handle event", slog.String("event", event.Name), slog.Any("error", err))
		}
	}
}

// dispatch 依事件名稱交給對應的處理流程
func (g *Gateway) dispatch(ctx context.Context, s *Session, event InboundEvent) error {
	switch event.Name {
	case EventIdentify:
		username, err := decodeIdentify(event.Data)
		if err != nil {
			return err
		}
		if username == "" {
			username = s.identity.Username
		}
		if username != s.identity.Username {
			return fmt.Errorf("%w: identify as %q with token of %q", ErrValidation, username, s.identity.Username)
		}
		return g.bind(ctx, s, username)

	case EventBid:
		payload, err := decodePayload[BidPayload](event.Data)
		if err != nil {
			return err
		}
		if err := g.checkActor(s, payload.ItemKey, payload.Username); err != nil {
			return err
		}
		_, _, err = g.service.PlaceBid(ctx, payload.ItemKey, payload.Amount, s.identity.Username)
		return g.reportBid(s, payload.ItemKey, err)

	case EventBuyNow:
		payload, err := decodePayload[BuyNowPayload](event.Data)
		if err != nil {
			return err
		}
		if err := g.checkActor(s, payload.ItemKey, payload.Username); err != nil {
			return err
		}
		_, err = g.service.BuyNow(ctx, payload.ItemKey, s.identity.Username)
		return g.reportBid(s, payload.ItemKey, err)

	case EventRemoveItem:
		payload, err := decodePayload[RemoveItemPayload](event.Data)
		if err != nil {
			return err
		}
		if payload.ItemKey == "" {
			return fmt.Errorf("%w: missing itemKey", ErrValidation)
		}
		err = g.service.RemoveItem(ctx, payload.ItemKey, s.identity.Username)
		if errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrForbidden) {
			s.logger.Info("removal refused", slog.String("itemID", payload.ItemKey), slog.Any("reason", err))
			return nil
		}
		return err

	case EventSendMessage:
		payload, err := decodePayload[SendMessagePayload](event.Data)
		if err != nil {
			return err
		}
		if payload.To == "" || payload.Message == "" {
			return fmt.Errorf("%w: missing recipient or message", ErrValidation)
		}
		delivered := g.SendToUser(payload.To, Event{
			Name: EventReceiveMessage,
			Data: MessagePayload{Sender: s.identity.Username, Message: payload.Message},
		})
		if delivered == 0 {
			s.logger.Debug("message recipient offline", slog.String("to", payload.To))
		}
		return nil

	case EventLogout:
		return ErrSessionClosed

	default:
		return fmt.Errorf("%w: unknown event %q", ErrValidation, event.Name)
	}
}

func (g *Gateway) checkActor(s *Session, itemKey, username string) error {
	if itemKey == "" {
		return fmt.Errorf("%w: missing itemKey", ErrValidation)
	}
	if username != "" && username != s.identity.Username {
		return fmt.Errorf("%w: bid as %q with token of %q", ErrValidation, username, s.identity.Username)
	}
	return nil
}

// reportBid 將出價被拒的原因只回覆給出價的連線
func (g *Gateway) reportBid(s *Session, itemKey string, err error) error {
	if err == nil {
		return nil
	}
	s.send(Event{
		Name: EventBidRejected,
		Data: BidRejectedPayload{ItemKey: itemKey, Reason: RejectReason(err)},
	})
	if RejectReason(err) == "Unavailable" {
		return err
	}
	return nil
}

// bind 處理 Authenticated → Bound。
// 與 closeSession 共用 session 的鎖，已關閉的連線不會再被綁定。
func (g *Gateway) bind(ctx context.Context, s *Session, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateBound:
		return nil
	}

	unlock, err := g.userLane.Lock(ctx, username)
	if err != nil {
		return err
	}
	defer unlock()

	first := g.floor.Presence.Bind(s.ID, username)
	s.state = StateBound
	s.username = username
	s.logger.Info("session bound", slog.Bool("firstSession", first))
	if !first {
		return nil
	}

	user, err := g.users.GetByUsername(ctx, username)
	if err != nil {
		s.logger.Warn("fail to load user profile", slog.Any("error", err))
		user = User{Username: username}
	}
	if err := g.users.SetOnline(ctx, username, true); err != nil {
		s.logger.Error("fail to mark user online", slog.Any("error", err))
	}
	g.floor.Hub.Broadcast(Event{
		Name: EventUserOnline,
		Data: UserOnlinePayload{ID: user.ID, Username: username, Name: user.Name},
	})
	return nil
}

// closeSession 處理 → Closed，只會執行一次。
// 只有曾經綁定、而且是該使用者最後一條連線時才廣播離線。
func (g *Gateway) closeSession(ctx context.Context, s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	wasBound := s.state == StateBound
	s.state = StateClosed
	if !wasBound {
		return
	}

	unlock, err := g.userLane.Lock(ctx, s.username)
	if err != nil {
		s.logger.Error("fail to acquire user lane", slog.Any("error", err))
		g.floor.Presence.Unbind(s.ID)
		return
	}
	defer unlock()

	username, last, ok := g.floor.Presence.Unbind(s.ID)
	if !ok || !last {
		return
	}
	if err := g.users.SetOnline(ctx, username, false); err != nil {
		s.logger.Error("fail to mark user offline", slog.Any("error", err))
	}
	g.floor.Hub.Broadcast(Event{Name: EventUserOffline, Data: UserOfflinePayload{Username: username}})
}

// SendToUser 將事件送到使用者目前所有的連線，回傳送達的連線數
func (g *Gateway) SendToUser(username string, event Event) int {
	delivered := 0
	for _, connID := range g.floor.Presence.Connections(username) {
		g.mu.RLock()
		s, ok := g.sessions[connID]
		g.mu.RUnlock()
		if ok && s.send(event) {
			delivered++
		}
	}
	return delivered
}

// Len 回傳目前的連線數
func (g *Gateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Close 關閉所有連線並等待它們結束
func (g *Gateway) Close() {
	g.mu.RLock()
	for _, s := range g.sessions {
		s.conn.Close()
	}
	g.mu.RUnlock()
	g.wg.Wait()
}

func (g *Gateway) register(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[s.ID] = s
}

func (g *Gateway) unregister(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, s.ID)
}
