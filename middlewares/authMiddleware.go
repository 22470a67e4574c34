package middlewares

import (
	"context"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/gin-gonic/gin"
)

const bearerClaimKey = ctxKey("bearerClaim")

// AuthMiddleware accepts "Authorization: Bearer <jwt>" issued by POST /api/auth/token.
// A request already signed in through a session is left alone.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		if username, ok := utils.GetUsernameFromContext(c.Request.Context()); ok && username != "" {
			c.Next()
			return
		}

		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			abortWithError(c, http.StatusUnauthorized, utils.ErrorUnauthorized.Error())
			return
		}
		claim, err := utils.ParseBearerToken(strings.TrimSpace(token))
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, utils.ErrorUnauthorized.Error())
			return
		}

		ctx := context.WithValue(c.Request.Context(), bearerClaimKey, claim)
		ctx = utils.SetUsernameInContext(ctx, claim.Username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// BearerClaim is the verified token claim of the request, nil for session logins.
func BearerClaim(ctx context.Context) *utils.JwtCustomClaim {
	claim, _ := ctx.Value(bearerClaimKey).(*utils.JwtCustomClaim)
	return claim
}
