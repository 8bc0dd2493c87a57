package main

import (
	"crypto"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"livebid/adapters/database"
	"livebid/api"
)

func ParseArgs() (Args, error) {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")

	// auth config
	pflag.String("auth-private-key", "", "PEM encoded PKCS#8 ed25519 private key, or a path to one")
	pflag.String("auth-issuer", "livebid", "")
	pflag.String("auth-audience", "livebid", "")
	pflag.Duration("auth-expire-duration", 3*time.Hour, "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "livebid:", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-sales", "livebid-sales-stream", "")
	pflag.Int64("redis-sales-max-len", 10000, "")

	// auction config
	pflag.Duration("auction-tick-interval", time.Second, "")
	pflag.Int("auction-clock-concurrency", 8, "")
	pflag.String("item-lock", api.LockModeLocal, "local | redis")

	// sse config
	pflag.Duration("sse-keepalive", 30*time.Second, "")

	// log config
	pflag.String("log-level", "info", "debug | info | warn | error")
	pflag.String("log-format", "text", "text | json")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("LIVEBID")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	privateKey, err := loadPrivateKey(viper.GetString("auth-private-key"))
	if err != nil {
		return Args{}, err
	}

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		LogLevel:  viper.GetString("log-level"),
		LogFormat: viper.GetString("log-format"),
		ServerConfig: api.ServerConfig{
			Auth: api.AuthConfig{
				PrivateKey:     privateKey,
				Issuer:         viper.GetString("auth-issuer"),
				Audience:       viper.GetString("auth-audience"),
				ExpireDuration: viper.GetDuration("auth-expire-duration"),
			},
			DB: database.Config{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:      viper.GetString("redis-addr"),
				Password:  viper.GetString("redis-password"),
				DB:        viper.GetInt("redis-db"),
				KeyPrefix: viper.GetString("redis-key-prefix"),
				StreamKeys: api.RedisStreamKeys{
					Sales: viper.GetString("redis-stream-key-for-sales"),
				},
				SalesMaxLen: viper.GetInt64("redis-sales-max-len"),
			},
			Auction: api.AuctionConfig{
				TickInterval:     viper.GetDuration("auction-tick-interval"),
				ClockConcurrency: viper.GetInt("auction-clock-concurrency"),
				LockMode:         viper.GetString("item-lock"),
			},
			SSE: api.SSEConfig{
				KeepAlive: viper.GetDuration("sse-keepalive"),
			},
		},
	}, nil
}

type Args struct {
	ServerURL    string
	LogLevel     string
	LogFormat    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" &&
		args.ServerConfig.Auth.PrivateKey != nil &&
		args.ServerConfig.DB.Host != "" &&
		args.ServerConfig.DB.Database != "" &&
		args.ServerConfig.Redis.Addr != "" &&
		args.ServerConfig.Redis.StreamKeys.Sales != "" &&
		args.ServerConfig.Auction.TickInterval > 0
}

// loadPrivateKey 接受 PEM 內容或是 PEM 檔案路徑
func loadPrivateKey(value string) (crypto.Signer, error) {
	if value == "" {
		return nil, nil
	}
	raw := []byte(value)
	if !strings.Contains(value, "-----BEGIN") {
		content, err := os.ReadFile(value)
		if err != nil {
			return nil, fmt.Errorf("Fail to read private key file, err=%w", err)
		}
		raw = content
	}
	key, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("Fail to parse private key, err=%w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("Unsupported private key type %T", key)
	}
	return signer, nil
}

func (args Args) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(args.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if args.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}
