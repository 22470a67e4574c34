package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionHeader carries the token returned by POST /api/auth/login.
const SessionHeader = "token"

// SessionMiddleware resolves a login token to its username. Every request that uses the
// session extends it by TOKEN_HOUR_LIFESPAN. Requests without the header pass through
// for the bearer check.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(SessionHeader))
		if token == "" {
			c.Next()
			return
		}
		username, found, err := config.TouchRedisValue(config.SessionKey(token), config.TokenLifespan())
		if err != nil {
			config.LogError(config.GetLogger(), "middlewares", "SessionMiddleware", "reading session", nil, err)
		}
		if !found {
			abortWithError(c, http.StatusUnauthorized, "session expired, please sign in again")
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
