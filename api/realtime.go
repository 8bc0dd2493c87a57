package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"livebid/adapters/ws"
	"livebid/auction"
)

// Open a real-time bidding session
// (GET /ws)
func (impl *ServerImpl) GetWS(c *gin.Context) {
	token := identityFrom(c)
	conn, err := ws.Upgrade(c.Writer, c.Request, ws.WithLogger(impl.logger))
	if err != nil {
		// Upgrade 失敗時 gorilla 已經回應了錯誤
		impl.logger.Warn("Fail to upgrade websocket", slog.Any("error", err))
		return
	}
	err = impl.gateway.Serve(c.Request.Context(), conn, auction.Identity{Username: token.Username})
	if err != nil {
		impl.logger.Debug("Websocket session ended", slog.String("username", token.Username), slog.Any("error", err))
	}
}

// Track auction events as a read-only observer
// (GET /events)
func (impl *ServerImpl) GetEvents(c *gin.Context) {
	ctx := c.Request.Context()
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")

	ch := impl.hub.Subscribe()
	defer impl.hub.Unsubscribe(ch)

	// 先送出目前的拍賣清單
	items, err := impl.service.Items(ctx)
	if err != nil {
		impl.logger.Error("Fail to list items for observer", slog.Any("error", err))
		items = []auction.Item{}
	}
	if items == nil {
		items = []auction.Item{}
	}
	c.SSEvent(auction.EventItemsUpdated, items)
	w.Flush()

	keepAlive := time.NewTicker(impl.config.SSE.KeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(event.Name, event.Data)
			w.Flush()
			keepAlive.Reset(impl.config.SSE.KeepAlive)
		// 一段時間沒有事件就發送一個空行，確保瀏覽器和代理不會斷開連線
		case <-keepAlive.C:
			_, _ = w.WriteString("\n\n")
			w.Flush()
		}
	}
}
