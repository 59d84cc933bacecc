package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/suPer8Hu/chat-stream/internal/common"
)

const UserIDKey = "user_id"

// AuthRequired extracts the user identity from a bearer token. Token
// issuance lives outside this service; here the claim is only read.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			common.Fail(c, 401, 40101, "unauthorized")
			c.Abort()
			return
		}
		raw := strings.TrimPrefix(h, "Bearer ")

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			common.Fail(c, 401, 40102, "invalid token")
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			common.Fail(c, 401, 40102, "invalid token")
			c.Abort()
			return
		}
		sub, ok := claims["sub"].(float64)
		if !ok || sub <= 0 {
			common.Fail(c, 401, 40103, "invalid subject")
			c.Abort()
			return
		}

		c.Set(UserIDKey, uint64(sub))
		c.Next()
	}
}
