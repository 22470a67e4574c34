package handlers

import (
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"github.com/gin-gonic/gin"
)

type categorySelection struct {
	Category string `json:"category" binding:"required"`
	Selected *bool  `json:"selected" binding:"required"`
}

// listPermissions returns the catalog grouped for the role editor.
func (h *Handler) listPermissions(c *gin.Context) {
	categories, err := models.ListPermissionsByCategory(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, categories)
}

func (h *Handler) listRoles(c *gin.Context) {
	roles, err := models.ListRoles(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, roles)
}

func (h *Handler) getRole(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	role, err := models.GetRole(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, role)
}

func (h *Handler) createRole(c *gin.Context) {
	var input models.NewRole
	if !bindJSON(c, &input) {
		return
	}
	role, err := models.CreateRole(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, role)
}

func (h *Handler) updateRole(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var input models.NewRole
	if !bindJSON(c, &input) {
		return
	}
	role, err := models.UpdateRole(c.Request.Context(), id, &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, role)
}

// setCategoryPermissions selects or deselects one whole category on the role.
func (h *Handler) setCategoryPermissions(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var req categorySelection
	if !bindJSON(c, &req) {
		return
	}
	role, err := models.SetCategoryPermissions(c.Request.Context(), id, req.Category, *req.Selected)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, role)
}

func (h *Handler) deleteRole(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	role, err := models.DeleteRole(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, role)
}

/* outbox */

func (h *Handler) outboxSummary(c *gin.Context) {
	counts, err := models.GetOutboxSummary(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, counts)
}

func (h *Handler) requeueDeadEvents(c *gin.Context) {
	n, err := models.RequeueDeadEvents(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"requeued": n})
}
