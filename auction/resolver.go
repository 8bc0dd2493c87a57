package auction

import "time"

// Outcome 表示一次出價被接受後的結果類型
type Outcome int

const (
	// OutcomeAccepted 一般出價成為目前最高價
	OutcomeAccepted Outcome = iota + 1
	// OutcomeBuyNow 出價達到直購價，拍賣立即成交
	OutcomeBuyNow
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeBuyNow:
		return "buy-now"
	default:
		return "unknown"
	}
}

// ApplyBid 根據拍賣品目前的狀態決定是否接受出價。
// 不會修改傳入的 item，回傳的是新的狀態。
// 直購判斷優先於一般出價比較；所有比較皆為嚴格大於，相同金額一律拒絕。
func ApplyBid(item Item, amount int64, actingUser string) (Item, Outcome, error) {
	if amount <= 0 {
		return item, 0, ErrInvalidAmount
	}
	if item.Sold {
		return item, 0, ErrItemSold
	}
	if actingUser == item.Owner {
		return item, 0, ErrOwnItem
	}

	if item.HasBuyNow() && amount >= item.BuyNowPrice {
		item.Sold = true
		item.WinningUser = actingUser
		item.CurrentBid = amount
		return item, OutcomeBuyNow, nil
	}

	if amount > item.CurrentBid {
		item.CurrentBid = amount
		item.WinningUser = actingUser
		return item, OutcomeAccepted, nil
	}

	return item, 0, ErrBidTooLow
}

// ApplyRemoval 檢查使用者是否可以移除拍賣品
func ApplyRemoval(item Item, actingUser string) error {
	if item.Owner != actingUser {
		return ErrForbidden
	}
	return nil
}

// Age 將拍賣品的剩餘時間扣除 elapsed，最低為 0。
// expired 表示這次扣除後拍賣品應因逾時而成交。
func Age(item Item, elapsed time.Duration) (aged Item, expired bool) {
	if item.Sold {
		return item, false
	}
	item.RemainingTimeMs = max(item.RemainingTimeMs-elapsed.Milliseconds(), 0)
	if item.RemainingTimeMs == 0 {
		item.Sold = true
		return item, true
	}
	return item, false
}
