package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"livebid/adapters/broadcast"
	"livebid/adapters/database"
	redisAdapter "livebid/adapters/redis"
	"livebid/auction"
)

type ServerImpl struct {
	db          *gorm.DB
	redisClient *redis.Client
	users       auction.IUserStore
	hub         *broadcast.Channel[auction.Event]
	floor       *auction.Floor
	service     *auction.Service
	clock       *auction.Clock
	gateway     *auction.Gateway
	archive     redisAdapter.ISalesArchive
	htmlChecker *bluemonday.Policy
	logger      *slog.Logger

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化資料庫連線
	var tablePrefix string
	if config.DB.Schema != "" {
		tablePrefix = config.DB.Schema + "."
	}
	db, err := database.Open(config.DB.DSN(), tablePrefix)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	users := database.NewUserStore(db)
	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := users.Migrate(migrateCtx); err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("[%s] Fail to connect to redis, err=%w", op, err)
	}

	impl, err := newServer(config, redisClient, users)
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}
	impl.db = db
	return impl, nil
}

// newServer 組裝拍賣核心，資料庫與 Redis 連線由呼叫端提供
func newServer(config ServerConfig, redisClient *redis.Client, users auction.IUserStore) (*ServerImpl, error) {
	const op = "NewServer"
	logger := slog.Default()

	if config.Auth.PrivateKey == nil {
		return nil, fmt.Errorf("[%s] Missing private key for signing tokens", op)
	}
	if config.Auth.ExpireDuration <= 0 {
		config.Auth.ExpireDuration = 3 * time.Hour
	}
	if config.SSE.KeepAlive <= 0 {
		config.SSE.KeepAlive = 30 * time.Second
	}

	// 初始化成交紀錄
	archive, err := redisAdapter.NewSalesArchive(
		redisClient,
		config.Redis.StreamKeys.Sales,
		redisAdapter.WithSalesArchiveLogger(logger),
		redisAdapter.WithSalesArchiveMaxLen(config.Redis.SalesMaxLen),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create sales archive, err=%w", op, err)
	}

	hub := broadcast.NewChannel[auction.Event]()
	floor := auction.NewFloor(hub)

	serviceOpts := []auction.ServiceOption{
		auction.WithServiceLogger(logger),
		auction.WithServiceArchiver(archive),
	}
	switch config.Auction.LockMode {
	case "", LockModeLocal:
	case LockModeRedis:
		serviceOpts = append(serviceOpts, auction.WithServiceLocker(redisAdapter.NewItemLocker(
			redisClient,
			redisAdapter.WithItemLockerPrefix(config.Redis.KeyPrefix+"lock:"),
			redisAdapter.WithItemLockerLogger(logger),
		)))
	default:
		return nil, fmt.Errorf("[%s] Unknown item lock mode: %s", op, config.Auction.LockMode)
	}

	service := auction.NewService(
		redisAdapter.NewItemStore(redisClient, redisAdapter.WithStorePrefix(config.Redis.KeyPrefix)),
		floor,
		serviceOpts...,
	)
	clock := auction.NewClock(
		service,
		auction.WithClockLogger(logger),
		auction.WithClockInterval(config.Auction.TickInterval),
		auction.WithClockConcurrency(config.Auction.ClockConcurrency),
	)
	gateway := auction.NewGateway(floor, service, users, auction.WithGatewayLogger(logger))

	return &ServerImpl{
		redisClient: redisClient,
		users:       users,
		hub:         hub,
		floor:       floor,
		service:     service,
		clock:       clock,
		gateway:     gateway,
		archive:     archive,
		htmlChecker: bluemonday.UGCPolicy(),
		logger:      logger.With(slog.String("caller", "Server")),
		config:      config,
	}, nil
}

func (impl *ServerImpl) Start() error {
	// 啟動成交紀錄的寫入worker
	impl.archive.Start()
	// 啟動拍賣時鐘
	if err := impl.clock.Start(); err != nil {
		return fmt.Errorf("[Start] Fail to start auction clock, err=%w", err)
	}
	return nil
}

// Drain 結束所有即時連線與SSE串流，讓 http.Server.Shutdown 不必等待長連線。
// 可以重複呼叫，Close 也會再呼叫一次。
func (impl *ServerImpl) Drain() {
	// 關閉所有即時連線
	impl.gateway.Close()
	// 關閉SSE訂閱
	impl.hub.UnsubscribeAll()
}

func (impl *ServerImpl) Close() {
	// 停止拍賣時鐘
	if err := impl.clock.Close(); err != nil {
		impl.logger.Error("Fail to stop auction clock", slog.Any("error", err))
	}
	impl.Drain()
	// 等待成交紀錄寫完
	impl.archive.Close()
	if err := impl.redisClient.Close(); err != nil {
		impl.logger.Error("Fail to close redis client", slog.Any("error", err))
	}
	if impl.db != nil {
		if sqlDB, err := impl.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// RegisterHandlers 將所有路由註冊到 router 上
func (impl *ServerImpl) RegisterHandlers(router gin.IRouter) {
	router.POST("/auth/register", impl.PostAuthRegister)
	router.POST("/auth/login", impl.PostAuthLogin)
	router.GET("/users", impl.GetUsers)
	router.GET("/items", impl.GetItems)
	router.POST("/items", impl.RequireAuth(), impl.PostItems)
	router.GET("/sales", impl.GetSales)
	router.GET("/events", impl.RequireAuth(), impl.GetEvents)
	router.GET("/ws", impl.RequireAuth(), impl.GetWS)
}

// internalError 記錄錯誤並回應 500，不把內部錯誤細節傳給客戶端
func (impl *ServerImpl) internalError(c *gin.Context, err error) {
	impl.logger.Error("Request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
}
