package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/internal/model"
	"github.com/kart-io/shopfloor-copilot/internal/pkg/httputils"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/errors"
)

// ViolationHandler 违规记录的确认、关闭与查询接口。
type ViolationHandler struct {
	store *store.ViolationStore
}

// NewViolationHandler 创建违规处理器。
func NewViolationHandler(s *store.ViolationStore) *ViolationHandler {
	return &ViolationHandler{store: s}
}

// AckRequest 确认请求。
type AckRequest struct {
	AckType     string `json:"ack_type" binding:"required"`
	AckBy       string `json:"ack_by" binding:"required"`
	Comment     string `json:"comment"`
	EvidenceRef string `json:"evidence_ref"`
}

// Ack 给违规追加一次确认。justify 必须带备注，resolve 只允许一次。
func (h *ViolationHandler) Ack(c *gin.Context) {
	var req AckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrInvalidRequest.WithMessage(err.Error()), nil)
		return
	}

	err := h.store.AddAcknowledgment(c.Request.Context(), c.Param("id"), req.AckBy, req.AckType, req.Comment, req.EvidenceRef)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteResponse(c, nil, gin.H{"ok": true})
}

// ResolveRequest 关闭请求。
type ResolveRequest struct {
	AckBy   string `json:"ack_by" binding:"required"`
	Comment string `json:"comment"`
}

// Resolve 以 resolve 确认关闭违规，等价于 ack_type=resolve。
func (h *ViolationHandler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrInvalidRequest.WithMessage(err.Error()), nil)
		return
	}

	err := h.store.AddAcknowledgment(c.Request.Context(), c.Param("id"), req.AckBy, model.AckTypeResolved, req.Comment, "")
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteResponse(c, nil, gin.H{"ok": true})
}

// Get 返回单条违规及其派生状态。
func (h *ViolationHandler) Get(c *gin.Context) {
	tl, err := h.store.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteResponse(c, nil, gin.H{"violation": tl.Violation, "state": tl.State})
}

// Timeline 返回违规与其全部确认的时间线。
func (h *ViolationHandler) Timeline(c *gin.Context) {
	tl, err := h.store.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteResponse(c, nil, tl)
}

// Active 返回全部未关闭的违规，支持 station/profile/blocking_only 过滤。
func (h *ViolationHandler) Active(c *gin.Context) {
	violations, err := h.store.Active(c.Request.Context(), violationQuery(c, 0))
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteResponse(c, nil, violations)
}

// History 按关闭时间倒序返回历史违规，limit 作用于过滤后的结果。
func (h *ViolationHandler) History(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputils.WriteResponse(c, errors.ErrInvalidRequest.WithMessage("limit must be a positive integer"), nil)
			return
		}
		limit = n
	}

	violations, err := h.store.History(c.Request.Context(), violationQuery(c, limit))
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteResponse(c, nil, violations)
}

func violationQuery(c *gin.Context, limit int) store.ViolationQuery {
	return store.ViolationQuery{
		Station:      c.Query("station"),
		Profile:      c.Query("profile"),
		BlockingOnly: c.Query("blocking_only") == "true",
		Limit:        limit,
	}
}
