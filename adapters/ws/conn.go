package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livebid/auction"
)

type connOptions struct {
	logger       *slog.Logger
	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
	readLimit    int64
}

type ConnOption func(*connOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) ConnOption {
	return func(o *connOptions) {
		o.logger = logger
	}
}

// WithPingInterval 設置送出 ping 的間隔，必須小於 pongWait
func WithPingInterval(d time.Duration) ConnOption {
	return func(o *connOptions) {
		o.pingInterval = d
	}
}

// WithPongWait 設置等待 pong 的時限，逾時視為連線中斷
func WithPongWait(d time.Duration) ConnOption {
	return func(o *connOptions) {
		o.pongWait = d
	}
}

func WithWriteWait(d time.Duration) ConnOption {
	return func(o *connOptions) {
		o.writeWait = d
	}
}

// WithReadLimit 設置單一訊息的大小上限
func WithReadLimit(n int64) ConnOption {
	return func(o *connOptions) {
		o.readLimit = n
	}
}

// Conn 將 gorilla websocket 包裝成 auction.IConn，
// 並在背景送出 ping 以偵測斷線。
type Conn struct {
	ws      *websocket.Conn
	options connOptions
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ auction.IConn = (*Conn)(nil)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 連線由 token 驗證，不限制來源
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade 將 HTTP 請求升級為 websocket 連線
func Upgrade(w http.ResponseWriter, r *http.Request, opts ...ConnOption) (*Conn, error) {
	const op = "ws.Upgrade"
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to upgrade connection: %w", op, err)
	}
	return NewConn(ws, opts...), nil
}

// NewConn 包裝已建立的 websocket 連線並啟動心跳
func NewConn(ws *websocket.Conn, opts ...ConnOption) *Conn {
	options := connOptions{
		logger:       slog.Default(),
		pingInterval: 30 * time.Second,
		pongWait:     60 * time.Second,
		writeWait:    10 * time.Second,
		readLimit:    64 * 1024,
	}
	for _, opt := range opts {
		opt(&options)
	}

	c := &Conn{
		ws:      ws,
		options: options,
		logger:  options.logger.With(slog.String("caller", "WebsocketConn"), slog.String("remote", ws.RemoteAddr().String())),
		done:    make(chan struct{}),
	}

	ws.SetReadLimit(options.readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(options.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(options.pongWait))
	})

	c.wg.Add(1)
	go c.heartbeat()
	return c
}

// heartbeat 定期送出 ping；WriteControl 可以和其他寫入同時呼叫
func (c *Conn) heartbeat() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.options.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.options.writeWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

// ReadEvent 讀取下一個客戶端事件，無法解析的訊息會被略過
func (c *Conn) ReadEvent(ctx context.Context) (auction.InboundEvent, error) {
	var event auction.InboundEvent
	for {
		if err := ctx.Err(); err != nil {
			return event, err
		}
		err := c.ws.ReadJSON(&event)
		if err == nil {
			return event, nil
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) || errors.Is(err, websocket.ErrCloseSent) {
			return event, fmt.Errorf("connection closed: %w", err)
		}
		// json 格式錯誤時丟棄這則訊息，連線本身仍然可用
		if isDecodeError(err) {
			c.logger.Debug("drop undecodable message", slog.Any("error", err))
			event = auction.InboundEvent{}
			continue
		}
		return event, err
	}
}

func isDecodeError(err error) bool {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

// WriteEvent 寫入一個事件，呼叫端必須保證同時只有一個寫入者
func (c *Conn) WriteEvent(_ context.Context, event auction.Event) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.options.writeWait))
	return c.ws.WriteJSON(event)
}

// Close 關閉連線，可以重複呼叫
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
		c.wg.Wait()
	})
	return err
}
