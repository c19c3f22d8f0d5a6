package batch

import (
	"github.com/gin-gonic/gin"

	"github.com/learnhub/core/internal/middleware"
	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/pkg/pagination"
	"github.com/learnhub/core/internal/pkg/response"
)

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/batches")
	g.GET("/public", h.listPublic)
	g.GET("/my", authMW, h.my)

	a := g.Group("", authMW, middleware.RequireRoles(string(models.RoleAdmin), string(models.RoleSuperAdmin)))
	a.GET("", h.list)
	a.GET("/:id", h.get)
	a.POST("", h.create)
	a.PATCH("/:id", h.update)
	a.DELETE("/:id", h.delete)
}

func listQuery(c *gin.Context) (ListQuery, bool) {
	q := ListQuery{
		Query:    pagination.FromContext(c),
		CourseID: c.Query("course_id"),
		Search:   c.Query("search"),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.BatchStatus(raw)
		switch status {
		case models.BatchUpcoming, models.BatchActive, models.BatchClosed:
			q.Statuses = []models.BatchStatus{status}
		default:
			response.BadRequest(c, "status must be one of UPCOMING, ACTIVE, CLOSED")
			return q, false
		}
	}
	return q, true
}

// GET /batches/public
func (h *Handler) listPublic(c *gin.Context) {
	q, ok := listQuery(c)
	if !ok {
		return
	}
	page, err := h.svc.ListPublic(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, page.Data, page.Pagination)
}

// GET /batches/my
func (h *Handler) my(c *gin.Context) {
	list, err := h.svc.MyBatches(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// GET /batches
func (h *Handler) list(c *gin.Context) {
	q, ok := listQuery(c)
	if !ok {
		return
	}
	page, err := h.svc.List(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, page.Data, page.Pagination)
}

// GET /batches/:id
func (h *Handler) get(c *gin.Context) {
	b, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, b)
}

// POST /batches
func (h *Handler) create(c *gin.Context) {
	var dto CreateDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	b, err := h.svc.Create(c.Request.Context(), &dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, b)
}

// PATCH /batches/:id
func (h *Handler) update(c *gin.Context) {
	var dto UpdateDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	b, err := h.svc.Update(c.Request.Context(), c.Param("id"), &dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, b)
}

// DELETE /batches/:id
func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
