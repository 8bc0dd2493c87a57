package redis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// dataField 是編碼後內容在 hash / stream entry 中的欄位名稱
const dataField = "data"

var (
	ErrPointerType = errors.New("pointer type is not allowed")
	ErrMissingData = errors.New("data field not found or invalid type")
)

// EncodeMessage 將 struct 以 msgpack + base64 編碼，封裝成 {"data": ...}
func EncodeMessage[T any](data T) (map[string]any, error) {
	encoded, err := encodeValue(data)
	if err != nil {
		return nil, err
	}
	return map[string]any{dataField: encoded}, nil
}

// DecodeMessage 將 {"data": ...} 還原成 struct，空訊息回傳零值
func DecodeMessage[T any](message map[string]any) (T, error) {
	var result T
	if len(message) == 0 {
		return result, nil
	}
	dataStr, ok := message[dataField].(string)
	if !ok {
		return result, ErrMissingData
	}
	return decodeValue[T](dataStr)
}

func encodeValue[T any](data T) (string, error) {
	// 檢查是否為指標類型
	if t := reflect.TypeOf(data); t != nil && t.Kind() == reflect.Ptr {
		return "", ErrPointerType
	}
	bytes, err := msgpack.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("msgpack marshal error: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes), nil
}

func decodeValue[T any](encoded string) (T, error) {
	var result T
	if t := reflect.TypeOf(result); t != nil && t.Kind() == reflect.Ptr {
		return result, ErrPointerType
	}
	bytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return result, fmt.Errorf("base64 decode error: %w", err)
	}
	if err := msgpack.Unmarshal(bytes, &result); err != nil {
		return result, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return result, nil
}
