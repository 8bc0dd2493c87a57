package api

import (
	"crypto"
	"time"

	"livebid/adapters/database"
)

type ServerConfig struct {
	Auth    AuthConfig
	DB      database.Config
	Redis   RedisConfig
	Auction AuctionConfig
	SSE     SSEConfig
}

type AuthConfig struct {
	PrivateKey     crypto.Signer
	Issuer         string
	Audience       string
	ExpireDuration time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	StreamKeys  RedisStreamKeys
	SalesMaxLen int64
}

type RedisStreamKeys struct {
	Sales string
}

// 拍賣品互斥鎖的實作方式
const (
	LockModeLocal = "local"
	LockModeRedis = "redis"
)

type AuctionConfig struct {
	TickInterval     time.Duration
	ClockConcurrency int
	LockMode         string
}

type SSEConfig struct {
	KeepAlive time.Duration
}
