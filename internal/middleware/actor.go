package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/accountkit/lifecycle-api/internal/handler"
	"github.com/accountkit/lifecycle-api/internal/model"
)

// ActorKey is the gin context key the authenticated actor is stored under.
const ActorKey = "actor"

// Actor recovers the authenticated actor identity from the bearer token. The
// auth gateway in front of this service has already verified the signature;
// this service trusts the identity and performs no credential re-validation,
// so the claims are read without verification.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid authorization format"))
			c.Abort()
			return
		}

		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(parts[1], claims); err != nil {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token"))
			c.Abort()
			return
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("token has no subject"))
			c.Abort()
			return
		}
		actorID, err := uuid.Parse(sub)
		if err != nil {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid actor id"))
			c.Abort()
			return
		}

		role, _ := claims["role"].(string)
		c.Set(ActorKey, &model.Actor{ID: actorID, Role: role})
		c.Next()
	}
}

// ActorFromContext returns the actor set by Actor, or nil.
func ActorFromContext(c *gin.Context) *model.Actor {
	if v, ok := c.Get(ActorKey); ok {
		if actor, ok := v.(*model.Actor); ok {
			return actor
		}
	}
	return nil
}
