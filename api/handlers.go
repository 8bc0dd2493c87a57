package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"

	redisAdapter "livebid/adapters/redis"
	"livebid/auction"
)

type registerRequest struct {
	Name      string  `json:"name" binding:"required"`
	Email     string  `json:"email" binding:"required,email"`
	Username  string  `json:"username" binding:"required"`
	Password  string  `json:"password" binding:"required"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type createItemRequest struct {
	Description     string `json:"description" binding:"required"`
	CurrentBid      int64  `json:"currentBid"`
	BuyNowPrice     int64  `json:"buyNowPrice"`
	RemainingTimeMs int64  `json:"remainingTimeMs"`
}

// Register a new user
// (POST /auth/register)
func (impl *ServerImpl) PostAuthRegister(c *gin.Context) {
	const op = "PostAuthRegister"
	var request registerRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid registration"})
		return
	}
	username := strings.TrimSpace(request.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid username"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(request.Password), bcrypt.DefaultCost)
	if err != nil {
		impl.internalError(c, fmt.Errorf("[%s] Fail to hash password, err=%w", op, err))
		return
	}
	user, err := impl.users.Create(c.Request.Context(), auction.Registration{
		Name:         strings.TrimSpace(request.Name),
		Email:        strings.TrimSpace(request.Email),
		Username:     username,
		PasswordHash: string(hash),
		Latitude:     request.Latitude,
		Longitude:    request.Longitude,
	})
	if errors.Is(err, auction.ErrUserExists) {
		c.JSON(http.StatusConflict, gin.H{"message": "User already exists"})
		return
	}
	if err != nil {
		impl.internalError(c, fmt.Errorf("[%s] Fail to create user, err=%w", op, err))
		return
	}
	impl.logger.Info("User registered", slog.String("username", user.Username))
	c.JSON(http.StatusCreated, user)
}

// Exchange credentials for an access token
// (POST /auth/login)
func (impl *ServerImpl) PostAuthLogin(c *gin.Context) {
	const op = "PostAuthLogin"
	var request loginRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid credentials"})
		return
	}
	user, hash, err := impl.users.Credentials(c.Request.Context(), strings.TrimSpace(request.Username))
	if errors.Is(err, auction.ErrUserNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid credentials"})
		return
	}
	if err != nil {
		impl.internalError(c, fmt.Errorf("[%s] Fail to find user, err=%w", op, err))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(request.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid credentials"})
		return
	}
	token, err := impl.issueToken(user)
	if err != nil {
		impl.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// List users
// (GET /users)
func (impl *ServerImpl) GetUsers(c *gin.Context) {
	const op = "GetUsers"
	users, err := impl.users.List(c.Request.Context())
	if err != nil {
		impl.internalError(c, fmt.Errorf("[%s] Fail to list users, err=%w", op, err))
		return
	}
	if users == nil {
		users = []auction.User{}
	}
	c.JSON(http.StatusOK, users)
}

// List active auction items
// (GET /items)
func (impl *ServerImpl) GetItems(c *gin.Context) {
	const op = "GetItems"
	items, err := impl.service.Items(c.Request.Context())
	if err != nil {
		impl.internalError(c, fmt.Errorf("[%s] Fail to list items, err=%w", op, err))
		return
	}
	if items == nil {
		items = []auction.Item{}
	}
	c.JSON(http.StatusOK, items)
}

// Add a new auction item
// (POST /items)
func (impl *ServerImpl) PostItems(c *gin.Context) {
	const op = "PostItems"
	var request createItemRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid item"})
		return
	}
	token := identityFrom(c)
	// 處理拍賣描述
	description := strings.TrimSpace(impl.htmlChecker.Sanitize(request.Description))
	item, err := impl.service.CreateItem(c.Request.Context(), auction.Listing{
		Description:     description,
		CurrentBid:      request.CurrentBid,
		BuyNowPrice:     request.BuyNowPrice,
		RemainingTimeMs: request.RemainingTimeMs,
		Owner:           token.Username,
	})
	if errors.Is(err, auction.ErrValidation) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid item"})
		return
	}
	if err != nil {
		impl.internalError(c, fmt.Errorf("[%s] Fail to create item, err=%w", op, err))
		return
	}
	c.Header("Location", "/items/"+item.ID)
	c.JSON(http.StatusCreated, item)
}

// List sold auction items, oldest first
// (GET /sales)
func (impl *ServerImpl) GetSales(c *gin.Context) {
	const op = "GetSales"
	count := int64(50)
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid count"})
			return
		}
		count = n
	}
	sales, err := redisAdapter.ReadSales(c.Request.Context(), impl.redisClient, impl.config.Redis.StreamKeys.Sales, count)
	if err != nil {
		impl.internalError(c, fmt.Errorf("[%s] Fail to read sales, err=%w", op, err))
		return
	}
	if winner := c.Query("winner"); winner != "" {
		sales = lo.Filter(sales, func(item auction.Item, _ int) bool { return item.WinningUser == winner })
	}
	c.JSON(http.StatusOK, sales)
}
