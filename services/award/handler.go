package award

import (
	"net/http"

	"encoin-rewards/pkg/db/pagination"
	"encoin-rewards/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")
	v1.POST("/awards", h.AwardEvent)
	v1.POST("/spends", h.Spend)
	v1.GET("/users/:uid/awards", h.AvailableAwards)
	v1.GET("/users/:uid/wallet", h.WalletSnapshot)
	v1.GET("/users/:uid/history", h.History)
}

type awardRequest struct {
	UID       string `json:"uid"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

type spendRequest struct {
	UID    string `json:"uid"`
	Amount string `json:"amount"`
	Label  string `json:"label"`
}

type historyResponse struct {
	Data     []*AuditEntry        `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

func (h *Handler) AwardEvent(c *gin.Context) {
	var req awardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(newError(KindValidation, "malformed request body: %v", err))
		return
	}

	source := req.Source
	if source == "" {
		source = middleware.GetChannel(c.Request.Context())
	}

	res, err := h.service.AwardEvent(c.Request.Context(), req.UID, req.EventID, AwardOptions{
		Timestamp:      req.Timestamp,
		Source:         source,
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) Spend(c *gin.Context) {
	var req spendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(newError(KindValidation, "malformed request body: %v", err))
		return
	}

	res, err := h.service.Spend(c.Request.Context(), req.UID, req.Amount, SpendOptions{
		Label:          req.Label,
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) AvailableAwards(c *gin.Context) {
	items, err := h.service.AvailableAwards(c.Request.Context(), c.Param("uid"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (h *Handler) WalletSnapshot(c *gin.Context) {
	snapshot, err := h.service.WalletSnapshot(c.Request.Context(), c.Param("uid"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

func (h *Handler) History(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(newError(KindValidation, "invalid pagination: %v", err))
		return
	}

	entries, info, err := h.service.History(c.Request.Context(), c.Param("uid"), page)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, historyResponse{Data: entries, PageInfo: info})
}
