package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/gin-gonic/gin"
)

const (
	currentUserKey = "currentUser"
	// FactoryHeader lets admins act on another factory.
	FactoryHeader = "X-Factory-Id"
)

// RequireUser loads the signed-in user and scopes the request context to their factory.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		username, ok := utils.GetUsernameFromContext(ctx)
		if !ok || username == "" {
			abortWithError(c, http.StatusUnauthorized, "access denied")
			return
		}

		user, err := models.GetUserByUsername(ctx, username)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				// destroy current session if user has been deleted
				if token, ok := utils.GetTokenFromContext(ctx); ok && token != "" {
					_, _ = models.Logout(ctx)
				}
				abortWithError(c, http.StatusUnauthorized, utils.ErrorUnauthorized.Error())
				return
			}
			config.LogError(config.GetLogger(), "middlewares", "RequireUser", "loading user", username, err)
			abortWithError(c, http.StatusInternalServerError, err.Error())
			return
		}
		if claim := BearerClaim(ctx); claim != nil && claim.ID != user.ID {
			abortWithError(c, http.StatusUnauthorized, utils.ErrorUnauthorized.Error())
			return
		}
		if user.IsActive != nil && !*user.IsActive {
			abortWithError(c, http.StatusForbidden, "user is disabled")
			return
		}

		factoryId := user.FactoryId
		if user.Role == models.UserRoleAdmin {
			if requested := strings.TrimSpace(c.GetHeader(FactoryHeader)); requested != "" {
				if _, err := models.GetFactoryById(ctx, requested); err != nil {
					abortWithError(c, http.StatusNotFound, "factory not found")
					return
				}
				factoryId = requested
			}
		}

		ctx = utils.SetFactoryIdInContext(ctx, factoryId)
		ctx = utils.SetUserIdInContext(ctx, user.ID)
		ctx = utils.SetUserNameInContext(ctx, user.Name)
		ctx = utils.SetRoleIdInContext(ctx, user.RoleId)
		ctx = utils.SetUserRoleInContext(ctx, string(user.Role))
		c.Request = c.Request.WithContext(ctx)
		c.Set(currentUserKey, user)
		c.Next()
	}
}

// CurrentUser returns the user loaded by RequireUser, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
