package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/models"
	"github.com/mystartupai/creditledger/internal/security"
)

const (
	userIDKey = "userID"
	userKey   = "user"
)

// UserLoader resolves the user behind a token.
type UserLoader interface {
	GetUser(ctx context.Context, userID uint64) (*models.User, error)
}

// UserAuth validates user JWTs and loads the user into the context.
func UserAuth(secret string, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "missing or malformed authorization header")
			return
		}
		claims, errJWT := security.ParseUserToken(secret, token)
		if errJWT != nil {
			abortUnauthorized(c, "invalid token")
			return
		}
		user, errUser := users.GetUser(c.Request.Context(), claims.UserID)
		if errUser != nil || user == nil {
			abortUnauthorized(c, "user not found")
			return
		}
		if user.ArchivedAt != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "account archived"})
			return
		}
		c.Set(userIDKey, user.ID)
		c.Set(userKey, user)
		c.Next()
	}
}

// UserIDFrom returns the authenticated user id.
func UserIDFrom(c *gin.Context) (uint64, bool) {
	value, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(uint64)
	return id, ok && id != 0
}

// UserFrom returns the user loaded by UserAuth.
func UserFrom(c *gin.Context) *models.User {
	value, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := value.(*models.User)
	return user
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if header == "" || token == header {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": message})
}
