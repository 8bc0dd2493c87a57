package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"livebid/auction"
)

// ItemStore 實現了 auction.IItemStore，
// 每件拍賣品存成一個 hash，另外以 sorted set 依建立時間記錄拍賣清單。
type ItemStore struct {
	client  *redis.Client // Redis 客戶端連線
	options StoreOptions  // Store 的配置選項
}

// StoreOptions 定義了 Store 的配置選項
type StoreOptions struct {
	Prefix string
}

type StoreOption func(*StoreOptions)

// WithStorePrefix 設定 Store 的 key 前綴
func WithStorePrefix(prefix string) StoreOption {
	return func(o *StoreOptions) {
		o.Prefix = prefix
	}
}

// NewItemStore 建立一個新的 ItemStore 實例
func NewItemStore(client *redis.Client, opts ...StoreOption) *ItemStore {
	options := &StoreOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &ItemStore{
		client:  client,
		options: *options,
	}
}

var _ auction.IItemStore = (*ItemStore)(nil)

func (s *ItemStore) itemKey(id string) string {
	return s.options.Prefix + "item:" + id
}

func (s *ItemStore) indexKey() string {
	return s.options.Prefix + "items"
}

// saveScript 原子性地覆寫拍賣品的 hash，並在清單中登記（已存在時保留原本的排序）
var saveScript = redis.NewScript(`
local key = KEYS[1]
redis.call('DEL', key)
redis.call('HSET', key, unpack(ARGV, 3))
redis.call('ZADD', KEYS[2], 'NX', ARGV[1], ARGV[2])
return 1
`)

// deleteScript 原子性地刪除拍賣品與清單中的登記，回傳刪除的 key 數量
var deleteScript = redis.NewScript(`
local n = redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return n
`)

// Get 從 Redis 中載入指定的拍賣品
func (s *ItemStore) Get(ctx context.Context, id string) (auction.Item, error) {
	const op = "redis.ItemStore.Get"
	result, err := s.client.HGetAll(ctx, s.itemKey(id)).Result()
	if err != nil {
		return auction.Item{}, fmt.Errorf("%s: failed to get hash: %w", op, err)
	}
	// Redis returns empty map when key doesn't exist
	if len(result) == 0 {
		return auction.Item{}, auction.ErrItemNotFound
	}
	item, err := decodeItem(result)
	if err != nil {
		return auction.Item{}, fmt.Errorf("%s: %w", op, err)
	}
	return item, nil
}

// Save 將拍賣品儲存到 Redis 中
// NOTE: 會先刪除舊的資料，再設定新的資料，這個過程是原子性的
func (s *ItemStore) Save(ctx context.Context, item auction.Item) error {
	const op = "redis.ItemStore.Save"
	if item.ID == "" {
		return fmt.Errorf("%s: item id is empty", op)
	}
	encoded, err := encodeValue(item)
	if err != nil {
		return fmt.Errorf("%s: failed to encode item: %w", op, err)
	}
	err = saveScript.Run(ctx, s.client,
		[]string{s.itemKey(item.ID), s.indexKey()},
		item.CreatedAt.UnixMilli(), item.ID, dataField, encoded,
	).Err()
	if err != nil {
		return fmt.Errorf("%s: failed to execute save script: %w", op, err)
	}
	return nil
}

// Delete 移除拍賣品
func (s *ItemStore) Delete(ctx context.Context, id string) (bool, error) {
	const op = "redis.ItemStore.Delete"
	n, err := deleteScript.Run(ctx, s.client, []string{s.itemKey(id), s.indexKey()}, id).Int()
	if err != nil {
		return false, fmt.Errorf("%s: failed to execute delete script: %w", op, err)
	}
	return n > 0, nil
}

// List 依建立時間列出所有拍賣品，清單中已不存在的拍賣品會被略過
func (s *ItemStore) List(ctx context.Context) ([]auction.Item, error) {
	const op = "redis.ItemStore.List"
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read index: %w", op, err)
	}
	if len(ids) == 0 {
		return []auction.Item{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.itemKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%s: failed to load items: %w", op, err)
	}

	items := make([]auction.Item, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		item, err := decodeItem(fields)
		if err != nil {
			return nil, fmt.Errorf("%s: item %s: %w", op, ids[i], err)
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeItem(fields map[string]string) (auction.Item, error) {
	encoded, ok := fields[dataField]
	if !ok {
		return auction.Item{}, ErrMissingData
	}
	return decodeValue[auction.Item](encoded)
}
