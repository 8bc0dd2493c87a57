//go:generate mockgen -package=redis -destination=mock.go -source=interfaces.go

package redis

import (
	"context"

	"livebid/auction"
)

// ISalesArchive 定義了 SalesArchive 的操作介面
type ISalesArchive interface {
	Start()
	Archive(ctx context.Context, item auction.Item) error
	Close()
}

var _ ISalesArchive = (*SalesArchive)(nil)
