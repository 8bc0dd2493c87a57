//go:generate mockgen -package=auction -destination=mock.go -source=interfaces.go

package auction

import "context"

// IItemStore 是拍賣品的持久化介面，核心不保留任何私有快取
type IItemStore interface {
	// Get 取得拍賣品，不存在時回傳 ErrItemNotFound
	Get(ctx context.Context, id string) (Item, error)
	// Save 寫入拍賣品並加入拍賣清單
	Save(ctx context.Context, item Item) error
	// Delete 移除拍賣品，回傳是否真的有刪除
	Delete(ctx context.Context, id string) (bool, error)
	// List 依建立時間列出所有拍賣品
	List(ctx context.Context) ([]Item, error)
}

// IUserStore 是使用者資料的持久化介面
type IUserStore interface {
	Create(ctx context.Context, registration Registration) (User, error)
	// Credentials 取得使用者與其密碼雜湊，不存在時回傳 ErrUserNotFound
	Credentials(ctx context.Context, username string) (User, string, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	List(ctx context.Context) ([]User, error)
	SetOnline(ctx context.Context, username string, online bool) error
}

// IHub 將事件廣播給所有訂閱者
type IHub interface {
	Subscribe() <-chan Event
	Unsubscribe(ch <-chan Event)
	Broadcast(event Event)
}

// ILocker 提供以拍賣品為單位的互斥區段
type ILocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// IArchiver 保存已成交的拍賣品
type IArchiver interface {
	Archive(ctx context.Context, item Item) error
}

// IConn 是單一即時連線的傳輸層
type IConn interface {
	ReadEvent(ctx context.Context) (InboundEvent, error)
	WriteEvent(ctx context.Context, event Event) error
	Close() error
}

// Registration 是註冊新使用者所需的資料
type Registration struct {
	Name         string
	Email        string
	Username     string
	PasswordHash string
	Latitude     float64
	Longitude    float64
}
