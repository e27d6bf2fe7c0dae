package middleware

import (
	"errors"
	"net/http"
	"strings"

	"fichua-bot/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ContextKeySubject holds the authenticated token subject
const ContextKeySubject = "subject"

// WebhookAuth requires an HS256 bearer token signed with secret. An empty
// secret disables the check.
func WebhookAuth(secret []byte, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abort(c, "Authorization header format must be Bearer <token>")
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				abort(c, "Token expired")
				return
			}
			logger.Warn("Invalid webhook token", zap.Error(err), zap.String("request_id", c.GetString(ContextKeyRequestID)))
			abort(c, "Invalid token")
			return
		}

		if !token.Valid {
			abort(c, "Invalid token")
			return
		}

		c.Set(ContextKeySubject, claims.Subject)
		c.Next()
	}
}

func abort(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.WebhookResponse{
		Status: models.StatusInvalidRequest,
		Error:  msg,
	})
}
