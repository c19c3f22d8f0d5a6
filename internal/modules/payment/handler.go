package payment

import (
	"github.com/gin-gonic/gin"

	"github.com/learnhub/core/internal/middleware"
	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/pkg/events"
	"github.com/learnhub/core/internal/pkg/pagination"
	"github.com/learnhub/core/internal/pkg/response"
)

type Handler struct {
	svc        *Service
	dispatcher *events.Dispatcher
}

func NewHandler(svc *Service, dispatcher *events.Dispatcher) *Handler {
	return &Handler{svc: svc, dispatcher: dispatcher}
}

// RegisterRoutes mounts the payment routes. idem guards submissions
// against replays; it may be nil.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW, idem gin.HandlerFunc) {
	g := rg.Group("/payments", authMW)
	if idem != nil {
		g.POST("", idem, h.submit)
	} else {
		g.POST("", h.submit)
	}
	g.GET("/my", h.my)

	a := g.Group("", middleware.RequireRoles(string(models.RoleAdmin), string(models.RoleSuperAdmin)))
	a.GET("/pending", h.pending)
	a.PATCH("/:id/verify", h.verify)
	a.PATCH("/:id/reject", h.reject)
}

// POST /payments
func (h *Handler) submit(c *gin.Context) {
	var dto SubmitDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, evs, err := h.svc.Submit(c.Request.Context(), middleware.CurrentUserID(c), &dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.dispatcher.Dispatch(c.Request.Context(), evs...)
	response.Created(c, p)
}

// GET /payments/my?page=&size=&search=
func (h *Handler) my(c *gin.Context) {
	page, err := h.svc.MyPayments(c.Request.Context(), middleware.CurrentUserID(c),
		pagination.FromContext(c), c.Query("search"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, page.Data, page.Pagination)
}

// GET /payments/pending
func (h *Handler) pending(c *gin.Context) {
	list, err := h.svc.Pending(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// PATCH /payments/:id/verify
func (h *Handler) verify(c *gin.Context) {
	p, evs, err := h.svc.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.dispatcher.Dispatch(c.Request.Context(), evs...)
	response.OK(c, p)
}

// PATCH /payments/:id/reject
func (h *Handler) reject(c *gin.Context) {
	var dto RejectDTO
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&dto); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	p, evs, err := h.svc.Reject(c.Request.Context(), c.Param("id"), dto.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.dispatcher.Dispatch(c.Request.Context(), evs...)
	response.OK(c, p)
}
