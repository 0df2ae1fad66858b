package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/corebanking/internal/ledger/application"
	"github.com/wyfcoding/corebanking/internal/ledger/domain"
	"github.com/wyfcoding/corebanking/pkg/logger"
	"github.com/wyfcoding/corebanking/pkg/response"
)

// HTTP 处理器
// 负责处理账户生命周期与账本查询相关的 HTTP 请求
type AccountHandler struct {
	app *application.AccountService // 账户应用服务
}

// 创建 HTTP 处理器实例
func NewAccountHandler(app *application.AccountService) *AccountHandler {
	return &AccountHandler{app: app}
}

// 注册路由
func (h *AccountHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/accounts")
	{
		api.POST("", h.OpenAccount)
		api.GET("/:id", h.GetAccount)
		api.GET("/:id/entries", h.ListEntries)
		api.GET("/:id/reconcile", h.Reconcile)
		api.POST("/:id/freeze", h.Freeze)
		api.POST("/:id/unfreeze", h.Unfreeze)
		api.POST("/:id/close", h.Close)
	}
}

type openAccountRequest struct {
	CustomerID        string  `json:"customer_id" binding:"required"`
	Currency          string  `json:"currency" binding:"required"`
	OverdraftLimit    string  `json:"overdraft_limit"`
	DeclaredRiskScore float64 `json:"declared_risk_score"`
}

// OpenAccount 开户
func (h *AccountHandler) OpenAccount(c *gin.Context) {
	var req openAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	overdraft := decimal.Zero
	if req.OverdraftLimit != "" {
		var err error
		overdraft, err = decimal.NewFromString(req.OverdraftLimit)
		if err != nil || overdraft.IsNegative() {
			response.ErrorWithStatus(c, http.StatusBadRequest, "invalid overdraft_limit", "")
			return
		}
	}

	account, err := h.app.OpenAccount(c.Request.Context(), req.CustomerID, req.Currency, overdraft, req.DeclaredRiskScore)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to open account", "customer_id", req.CustomerID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Created(c, account)
}

// GetAccount 查询账户
func (h *AccountHandler) GetAccount(c *gin.Context) {
	account, err := h.app.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrAccountNotFound) {
		response.ErrorWithStatus(c, http.StatusNotFound, "account not found", "")
		return
	}
	if err != nil {
		logger.Error(c.Request.Context(), "failed to get account", "account_id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, account)
}

// ListEntries 分页列出账户分录
func (h *AccountHandler) ListEntries(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limit", "")
		return
	}

	page, err := h.app.Entries(c.Request.Context(), c.Param("id"), domain.Range{
		Cursor: c.Query("cursor"),
		Limit:  limit,
	})
	if errors.Is(err, domain.ErrAccountNotFound) {
		response.ErrorWithStatus(c, http.StatusNotFound, "account not found", "")
		return
	}
	if err != nil {
		logger.Error(c.Request.Context(), "failed to list entries", "account_id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, page)
}

// Reconcile 对单个账户执行余额对账
func (h *AccountHandler) Reconcile(c *gin.Context) {
	report, err := h.app.Reconcile(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrAccountNotFound) {
		response.ErrorWithStatus(c, http.StatusNotFound, "account not found", "")
		return
	}
	if err != nil {
		logger.Error(c.Request.Context(), "failed to reconcile account", "account_id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, report)
}

// Freeze 冻结账户
func (h *AccountHandler) Freeze(c *gin.Context) {
	h.setStatus(c, h.app.Freeze)
}

// Unfreeze 解冻账户
func (h *AccountHandler) Unfreeze(c *gin.Context) {
	h.setStatus(c, h.app.Unfreeze)
}

// Close 销户
func (h *AccountHandler) Close(c *gin.Context) {
	h.setStatus(c, h.app.Close)
}

func (h *AccountHandler) setStatus(c *gin.Context, fn func(ctx context.Context, accountID string) error) {
	err := fn(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrAccountNotFound) {
		response.ErrorWithStatus(c, http.StatusNotFound, "account not found", "")
		return
	}
	if err != nil {
		logger.Error(c.Request.Context(), "failed to change account status", "account_id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, gin.H{"account_id": c.Param("id")})
}
