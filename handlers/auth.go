package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/garment_backend/middlewares"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	info, err := models.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, info)
}

func (h *Handler) logout(c *gin.Context) {
	result, err := models.Logout(c.Request.Context())
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	ok(c, result)
}

func (h *Handler) issueToken(c *gin.Context) {
	token, err := models.IssueAPIToken(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"token": token, "token_type": "Bearer"})
}

func (h *Handler) me(c *gin.Context) {
	user := *middlewares.CurrentUser(c)
	user.PrepareGive()
	ok(c, user)
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := models.ChangePassword(c.Request.Context(), req.OldPassword, req.NewPassword)
	if err != nil {
		fail(c, err)
		return
	}
	user.PrepareGive()
	ok(c, user)
}

/* factory */

func (h *Handler) getFactory(c *gin.Context) {
	factory, err := models.GetFactory(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, factory)
}

func (h *Handler) updateFactory(c *gin.Context) {
	var input models.NewFactory
	if !bindJSON(c, &input) {
		return
	}
	factory, err := models.UpdateFactory(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, factory)
}

func (h *Handler) listFactories(c *gin.Context) {
	factories, err := models.ListFactories(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, factories)
}

func (h *Handler) createFactory(c *gin.Context) {
	var input models.NewFactory
	if !bindJSON(c, &input) {
		return
	}
	factory, err := models.CreateFactory(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, factory)
}

/* users */

type userView struct {
	*models.User
	RoleName string `json:"role_name"`
}

func (h *Handler) listUsers(c *gin.Context) {
	ctx := c.Request.Context()
	users, err := models.GetUsers(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	roleIds := make([]int, len(users))
	for i, u := range users {
		roleIds[i] = u.RoleId
	}
	roles, errs := middlewares.GetRoles(ctx, roleIds)
	views := make([]*userView, len(users))
	for i, u := range users {
		views[i] = &userView{User: u}
		if len(errs) > i && errs[i] != nil {
			continue
		}
		views[i].RoleName = roleName(u, roles[i])
	}
	ok(c, views)
}

func roleName(user *models.User, role *models.Role) string {
	switch user.Role {
	case models.UserRoleAdmin:
		return "Admin"
	case models.UserRoleOwner:
		return "Owner"
	}
	if role == nil {
		return ""
	}
	return role.Name
}

func (h *Handler) getUser(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	user, err := models.GetUser(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, user)
}

func (h *Handler) createUser(c *gin.Context) {
	var input models.NewUser
	if !bindJSON(c, &input) {
		return
	}
	if !canAssignRole(c, input.Role) {
		return
	}
	user, err := models.CreateUser(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	user.PrepareGive()
	created(c, user)
}

func (h *Handler) updateUser(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var input models.NewUser
	if !bindJSON(c, &input) {
		return
	}
	if !canAssignRole(c, input.Role) {
		return
	}
	user, err := models.UpdateUser(c.Request.Context(), id, &input)
	if err != nil {
		fail(c, err)
		return
	}
	user.PrepareGive()
	ok(c, user)
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	user, err := models.DeleteUser(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	user.PrepareGive()
	ok(c, user)
}

// only admins hand out the admin role
func canAssignRole(c *gin.Context, role models.UserRole) bool {
	if role != models.UserRoleAdmin {
		return true
	}
	if current := middlewares.CurrentUser(c); current != nil && current.Role == models.UserRoleAdmin {
		return true
	}
	c.AbortWithStatusJSON(http.StatusForbidden, Response{Error: "only admins can create admin users"})
	return false
}
