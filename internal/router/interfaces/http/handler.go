package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	ledger "github.com/wyfcoding/corebanking/internal/ledger/domain"
	"github.com/wyfcoding/corebanking/internal/posting"
	"github.com/wyfcoding/corebanking/internal/router/application"
	"github.com/wyfcoding/corebanking/internal/router/domain"
	"github.com/wyfcoding/corebanking/pkg/logger"
	"github.com/wyfcoding/corebanking/pkg/response"
)

// HTTP 处理器
// 负责处理交易提交、复核与冲正相关的 HTTP 请求
type TransactionHandler struct {
	app *application.Service // 交易路由器应用服务
}

// 创建 HTTP 处理器实例
func NewTransactionHandler(app *application.Service) *TransactionHandler {
	return &TransactionHandler{app: app}
}

// 注册路由
func (h *TransactionHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/transactions")
	{
		api.POST("", h.Submit)
		api.GET("/:id", h.Get)
		api.POST("/:id/resolve", h.Resolve)
		api.POST("/:id/cancel", h.Cancel)
		api.POST("/:id/reverse", h.Reverse)
	}
}

type submitRequest struct {
	Type            string            `json:"type" binding:"required"`
	SourceAccountID string            `json:"source_account_id"`
	DestAccountID   string            `json:"dest_account_id"`
	Amount          string            `json:"amount" binding:"required"`
	Currency        string            `json:"currency" binding:"required"`
	Counterparty    string            `json:"counterparty"`
	Side            string            `json:"side"`
	IdempotencyKey  string            `json:"idempotency_key" binding:"required"`
	Metadata        map[string]string `json:"metadata"`
}

// Submit 受理一笔银行意图
func (h *TransactionHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid amount", "")
		return
	}

	tx, err := h.app.Submit(c.Request.Context(), domain.Intent{
		Type:            domain.Type(req.Type),
		SourceAccountID: req.SourceAccountID,
		DestAccountID:   req.DestAccountID,
		Amount:          amount,
		Currency:        req.Currency,
		Counterparty:    req.Counterparty,
		Side:            req.Side,
		IdempotencyKey:  req.IdempotencyKey,
		Metadata:        req.Metadata,
	})
	if err != nil {
		h.writeSubmitError(c, tx, err)
		return
	}
	response.Created(c, tx)
}

// writeSubmitError 提交失败时映射 HTTP 状态码
//
// 交易已进入失败终态时仍返回交易体，调用方据此查看原因码。
func (h *TransactionHandler) writeSubmitError(c *gin.Context, tx *domain.Transaction, err error) {
	switch {
	case errors.Is(err, domain.ErrMissingIdempotencyKey),
		errors.Is(err, domain.ErrUnknownIntentType),
		errors.Is(err, application.ErrInvalidAmount),
		errors.Is(err, application.ErrMissingAccount),
		errors.Is(err, application.ErrSameAccount),
		errors.Is(err, application.ErrInvalidSide),
		errors.Is(err, posting.ErrUnbalancedLegs),
		errors.Is(err, posting.ErrTooFewLegs):
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, ledger.ErrAccountNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, domain.ErrFraudBlocked),
		errors.Is(err, posting.ErrInsufficientFunds),
		errors.Is(err, posting.ErrAccountFrozen),
		errors.Is(err, posting.ErrAccountClosed),
		errors.Is(err, posting.ErrCurrencyMismatch):
		c.JSON(http.StatusUnprocessableEntity, response.Body{
			Code:    http.StatusUnprocessableEntity,
			Message: err.Error(),
			Data:    tx,
		})
	case errors.Is(err, domain.ErrCommitConflictExhausted):
		response.ErrorWithStatus(c, http.StatusConflict, err.Error(), "")
	default:
		logger.Error(c.Request.Context(), "failed to submit transaction", "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
	}
}

// Get 查询交易
func (h *TransactionHandler) Get(c *gin.Context) {
	tx, err := h.app.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrTransactionNotFound) {
		response.ErrorWithStatus(c, http.StatusNotFound, "transaction not found", "")
		return
	}
	if err != nil {
		logger.Error(c.Request.Context(), "failed to get transaction", "transaction_id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, tx)
}

type resolveRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

// Resolve 人工复核挂起交易
func (h *TransactionHandler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	tx, err := h.app.ResolveHeld(c.Request.Context(), c.Param("id"), req.Approve, req.Note)
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, "transaction not found", "")
	case errors.Is(err, domain.ErrInvalidTransition):
		response.ErrorWithStatus(c, http.StatusConflict, "transaction is not held", "")
	case errors.Is(err, ledger.ErrVersionConflict):
		response.ErrorWithStatus(c, http.StatusConflict, err.Error(), "")
	case err != nil:
		logger.Error(c.Request.Context(), "failed to resolve transaction", "transaction_id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
	default:
		response.Success(c, tx)
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel 取消 pending/held 交易
func (h *TransactionHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	tx, err := h.app.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, "transaction not found", "")
	case errors.Is(err, domain.ErrNotCancellable):
		response.ErrorWithStatus(c, http.StatusConflict, err.Error(), "")
	case err != nil:
		logger.Error(c.Request.Context(), "failed to cancel transaction", "transaction_id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
	default:
		response.Success(c, tx)
	}
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

// Reverse 冲正已过账交易
func (h *TransactionHandler) Reverse(c *gin.Context) {
	var req reverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	reversal, err := h.app.Reverse(c.Request.Context(), c.Param("id"), req.Reason)
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, "transaction not found", "")
	case errors.Is(err, domain.ErrNotReversible):
		response.ErrorWithStatus(c, http.StatusConflict, err.Error(), "")
	case err != nil:
		logger.Error(c.Request.Context(), "failed to reverse transaction", "transaction_id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
	default:
		response.Created(c, reversal)
	}
}
