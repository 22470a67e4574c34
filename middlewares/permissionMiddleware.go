package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/gin-gonic/gin"
)

// RequirePermission lets admins and owners through and checks the role of custom users.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			abortWithError(c, http.StatusUnauthorized, "access denied")
			return
		}
		if user.Role == models.UserRoleAdmin || user.Role == models.UserRoleOwner {
			c.Next()
			return
		}

		granted, err := models.GetAllowedPermissions(c.Request.Context(), user.RoleId)
		if err != nil {
			config.LogError(config.GetLogger(), "middlewares", "RequirePermission", "loading role permissions", user.RoleId, err)
			abortWithError(c, http.StatusInternalServerError, err.Error())
			return
		}
		if !models.PermissionSatisfied(granted, permission) {
			abortWithError(c, http.StatusForbidden, utils.ErrorForbidden.Error())
			return
		}
		c.Next()
	}
}

// RequireAdmin is for platform routes that span factories.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			abortWithError(c, http.StatusUnauthorized, "access denied")
			return
		}
		if user.Role != models.UserRoleAdmin {
			abortWithError(c, http.StatusForbidden, utils.ErrorForbidden.Error())
			return
		}
		c.Request = c.Request.WithContext(utils.SetIsAdminInContext(c.Request.Context(), true))
		c.Next()
	}
}
