package auction

import "errors"

var (
	ErrItemNotFound  = errors.New("item not found")
	ErrItemSold      = errors.New("item already sold")
	ErrBidTooLow     = errors.New("bid must be higher than the current bid")
	ErrOwnItem       = errors.New("owner cannot bid on their own item")
	ErrForbidden     = errors.New("only the owner can perform this action")
	ErrInvalidAmount = errors.New("bid amount must be positive")
	ErrNoBuyNowPrice = errors.New("item has no buy-now price")
	ErrValidation    = errors.New("malformed event")
	ErrSessionClosed = errors.New("session closed")
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("user already exists")
)

// RejectReason 將拒絕原因轉為回覆給客戶端的代碼
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrItemNotFound):
		return "NotFound"
	case errors.Is(err, ErrItemSold):
		return "ItemSold"
	case errors.Is(err, ErrBidTooLow):
		return "BidTooLow"
	case errors.Is(err, ErrOwnItem):
		return "OwnItem"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrNoBuyNowPrice):
		return "NoBuyNowPrice"
	default:
		return "Unavailable"
	}
}
