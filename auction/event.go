package auction

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// 伺服器推送給客戶端的事件
const (
	EventItemsUpdated   = "itemsUpdated"
	EventUserOnline     = "userOnline"
	EventUserOffline    = "userOffline"
	EventItemSold       = "itemSold"
	EventItemRemoved    = "itemRemoved"
	EventBidRejected    = "bidRejected"
	EventReceiveMessage = "receiveMessage"
)

// 客戶端送到伺服器的事件
const (
	EventIdentify    = "identify"
	EventBid         = "bid"
	EventBuyNow      = "buyNow"
	EventRemoveItem  = "removeItem"
	EventSendMessage = "sendMessage"
	EventLogout      = "logout"
)

// Event 是所有對外推送事件的封包
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// InboundEvent 是客戶端送來的原始事件，Data 依 Name 再解析
type InboundEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

type UserOnlinePayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type UserOfflinePayload struct {
	Username string `json:"username"`
}

type ItemRemovedPayload struct {
	ItemKey string `json:"itemKey"`
}

type BidRejectedPayload struct {
	ItemKey string `json:"itemKey"`
	Reason  string `json:"reason"`
}

type MessagePayload struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

type IdentifyPayload struct {
	Username string `json:"username"`
}

type BidPayload struct {
	ItemKey  string `json:"itemKey"`
	Amount   int64  `json:"amount"`
	Username string `json:"username,omitempty"`
}

type BuyNowPayload struct {
	ItemKey  string `json:"itemKey"`
	Username string `json:"username,omitempty"`
}

type RemoveItemPayload struct {
	ItemKey string `json:"itemKey"`
}

type SendMessagePayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func itemsUpdated(items []Item) Event {
	if items == nil {
		items = []Item{}
	}
	return Event{Name: EventItemsUpdated, Data: items}
}

// decodePayload 解析事件內容，欄位缺漏時回傳 ErrValidation
func decodePayload[T any](raw json.RawMessage) (T, error) {
	var payload T
	if len(bytes.TrimSpace(raw)) == 0 {
		return payload, fmt.Errorf("%w: missing payload", ErrValidation)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return payload, nil
}

// decodeIdentify 同時接受 {"username": "..."} 與單純字串兩種格式
func decodeIdentify(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var username string
		if err := json.Unmarshal(trimmed, &username); err != nil {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return username, nil
	}
	payload, err := decodePayload[IdentifyPayload](trimmed)
	if err != nil {
		return "", err
	}
	return payload.Username, nil
}
