package auction

// Floor 是行程層級的即時拍賣狀態，啟動時建立一次，
// 再交給 Gateway 與 Service 使用，不存在任何全域變數。
type Floor struct {
	Presence *Presence
	Hub      IHub
}

func NewFloor(hub IHub) *Floor {
	return &Floor{
		Presence: NewPresence(),
		Hub:      hub,
	}
}
