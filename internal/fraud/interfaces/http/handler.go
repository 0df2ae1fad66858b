package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/corebanking/internal/fraud/domain"
	"github.com/wyfcoding/corebanking/pkg/logger"
	"github.com/wyfcoding/corebanking/pkg/response"
)

// HTTP 处理器
// 负责处理欺诈告警查询与结案相关的 HTTP 请求
type AlertHandler struct {
	manager   *domain.AlertManager
	repo      domain.AlertRepository
	explainer domain.ExplanationProvider
}

// 创建 HTTP 处理器实例
func NewAlertHandler(manager *domain.AlertManager, repo domain.AlertRepository) *AlertHandler {
	return &AlertHandler{manager: manager, repo: repo, explainer: domain.StaticExplainer{}}
}

// 注册路由
func (h *AlertHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/fraud/alerts")
	{
		api.GET("", h.ListAlerts)
		api.GET("/:id", h.GetAlert)
		api.GET("/:id/explanation", h.Explain)
		api.POST("/:id/resolve", h.Resolve)
		api.POST("/:id/false-positive", h.MarkFalsePositive)
	}
}

// ListAlerts 按状态或账户列出告警
func (h *AlertHandler) ListAlerts(c *gin.Context) {
	if accountID := c.Query("account_id"); accountID != "" {
		alerts, err := h.repo.ListByAccount(c.Request.Context(), accountID)
		if err != nil {
			logger.Error(c.Request.Context(), "failed to list alerts", "account_id", accountID, "error", err)
			response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
			return
		}
		response.Success(c, alerts)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limit", "")
		return
	}
	status := domain.AlertStatus(c.DefaultQuery("status", string(domain.AlertStatusOpen)))

	alerts, err := h.repo.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to list alerts", "status", string(status), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, alerts)
}

// GetAlert 查询告警明细（含触发指标）
func (h *AlertHandler) GetAlert(c *gin.Context) {
	alert, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrAlertNotFound) {
		response.ErrorWithStatus(c, http.StatusNotFound, "alert not found", "")
		return
	}
	if err != nil {
		logger.Error(c.Request.Context(), "failed to get alert", "alert_id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, gin.H{"alert": alert, "indicators": alert.Indicators()})
}

// Explain 由告警快照重建评估并生成解释文案
func (h *AlertHandler) Explain(c *gin.Context) {
	alert, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrAlertNotFound) {
		response.ErrorWithStatus(c, http.StatusNotFound, "alert not found", "")
		return
	}
	if err != nil {
		logger.Error(c.Request.Context(), "failed to get alert", "alert_id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}

	assessment := &domain.Assessment{
		TransactionID: alert.TransactionID,
		Score:         alert.Score,
		RiskLevel:     domain.RiskLevel(alert.RiskLevel),
		Indicators:    alert.Indicators(),
	}
	explanation, err := h.explainer.Explain(c.Request.Context(), assessment)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to build explanation", "alert_id", alert.AlertID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, explanation)
}

type closeAlertRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required"`
	Resolution string `json:"resolution"`
}

// Resolve 确认并结案告警
func (h *AlertHandler) Resolve(c *gin.Context) {
	h.close(c, h.manager.Resolve)
}

// MarkFalsePositive 按误报结案告警
func (h *AlertHandler) MarkFalsePositive(c *gin.Context) {
	h.close(c, h.manager.MarkFalsePositive)
}

func (h *AlertHandler) close(c *gin.Context, fn func(ctx context.Context, alertID, resolvedBy, resolution string) error) {
	var req closeAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	err := fn(c.Request.Context(), c.Param("id"), req.ResolvedBy, req.Resolution)
	if errors.Is(err, domain.ErrAlertNotFound) {
		response.ErrorWithStatus(c, http.StatusNotFound, "alert not found", "")
		return
	}
	if err != nil {
		logger.Error(c.Request.Context(), "failed to close alert", "alert_id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, gin.H{"alert_id": c.Param("id")})
}
