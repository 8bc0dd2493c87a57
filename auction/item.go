package auction

import "time"

// Item 代表一件拍賣品在即時拍賣中的狀態
type Item struct {
	ID              string    `json:"id" msgpack:"id"`
	Description     string    `json:"description" msgpack:"description"`
	CurrentBid      int64     `json:"currentBid" msgpack:"current_bid"`
	BuyNowPrice     int64     `json:"buyNowPrice" msgpack:"buy_now_price"` // 0 表示沒有直購價
	RemainingTimeMs int64     `json:"remainingTimeMs" msgpack:"remaining_time_ms"`
	WinningUser     string    `json:"winningUser" msgpack:"winning_user"`
	Sold            bool      `json:"sold" msgpack:"sold"`
	Owner           string    `json:"owner" msgpack:"owner"`
	CreatedAt       time.Time `json:"createdAt" msgpack:"created_at"`
}

// HasBuyNow 判斷是否設定了直購價
func (i Item) HasBuyNow() bool {
	return i.BuyNowPrice > 0
}

// User 是使用者資料在拍賣核心中的投影，不含密碼
type User struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Username  string  `json:"username"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Online    bool    `json:"online"`
}
