package class

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
	g := rg.Group("/classes", authMW)
	g.GET("/my", h.my)

	a := g.Group("", middleware.RequireRoles(string(models.RoleAdmin), string(models.RoleSuperAdmin)))
	a.GET("", h.list)
	a.GET("/:id", h.get)
	a.POST("", h.create)
	a.PUT("/:id", h.update)
	a.DELETE("/:id", h.delete)
}

// GET /classes/my
func (h *Handler) my(c *gin.Context) {
	list, err := h.svc.MyClasses(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// GET /classes
func (h *Handler) list(c *gin.Context) {
	page, err := h.svc.List(c.Request.Context(), ListQuery{
		Query:   pagination.FromContext(c),
		BatchID: c.Query("batch_id"),
		Search:  c.Query("search"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, page.Data, page.Pagination)
}

// GET /classes/:id
func (h *Handler) get(c *gin.Context) {
	cls, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, cls)
}

// POST /classes
func (h *Handler) create(c *gin.Context) {
	var dto CreateDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	cls, err := h.svc.Create(c.Request.Context(), &dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cls)
}

// PUT /classes/:id
func (h *Handler) update(c *gin.Context) {
	var dto UpdateDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	cls, err := h.svc.Update(c.Request.Context(), c.Param("id"), &dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, cls)
}

// DELETE /classes/:id
func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
