package api

import (
	"crypto"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"livebid/auction"
)

const identityKey = "livebid-identity"

type JWT struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func ParseAndValidateJWT(tokenString string, secret crypto.Signer, opts ...jwt.ParserOption) (*JWT, error) {
	const op = "ParseJWT"
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	token, err := jwt.ParseWithClaims(tokenString, &JWT{}, func(token *jwt.Token) (interface{}, error) {
		return secret.Public(), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%s: token is invalid", op)
	}
	claims, ok := token.Claims.(*JWT)
	if !ok {
		return nil, fmt.Errorf("%s: token claims are invalid", op)
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("%s: token has no username", op)
	}
	return claims, nil
}

// issueToken 為使用者簽發 access token
func (impl *ServerImpl) issueToken(user auction.User) (string, error) {
	const op = "issueToken"
	now := time.Now()
	claims := JWT{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(impl.config.Auth.ExpireDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    impl.config.Auth.Issuer,
			Subject:   user.ID,
			ID:        uuid.NewString(),
		},
	}
	if impl.config.Auth.Audience != "" {
		claims.Audience = []string{impl.config.Auth.Audience}
	}
	token, err := jwt.NewWithClaims(&jwt.SigningMethodEd25519{}, claims).SignedString(impl.config.Auth.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to sign JWT, err=%w", op, err)
	}
	return token, nil
}

func (impl *ServerImpl) parseToken(tokenString string) (*JWT, error) {
	var opts []jwt.ParserOption
	if impl.config.Auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(impl.config.Auth.Issuer))
	}
	if impl.config.Auth.Audience != "" {
		opts = append(opts, jwt.WithAudience(impl.config.Auth.Audience))
	}
	return ParseAndValidateJWT(tokenString, impl.config.Auth.PrivateKey, opts...)
}

// tokenFromRequest 依序從 Authorization header 與 token query 參數取得 token。
// 瀏覽器的 websocket 與 EventSource 無法設定 header，所以也接受 query 參數。
func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}

// RequireAuth 驗證 access token，失敗時直接回應 401
func (impl *ServerImpl) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authentication error"})
			return
		}
		token, err := impl.parseToken(tokenString)
		if err != nil {
			impl.logger.Debug("Fail to parse and validate JWT", slog.String("path", c.FullPath()), slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authentication error"})
			return
		}
		c.Set(identityKey, token)
		c.Next()
	}
}

func identityFrom(c *gin.Context) *JWT {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	token, _ := v.(*JWT)
	return token
}
