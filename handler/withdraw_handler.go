package handler

import (
	"net/http"
	"strconv"

	"github.com/bolt-mining/withdraw-service/repository"
	"github.com/bolt-mining/withdraw-service/service"
	"github.com/gin-gonic/gin"
)

type WithdrawHandler struct {
	svc  *service.WithdrawService
	repo *repository.LedgerRepository
}

func NewWithdrawHandler(svc *service.WithdrawService, repo *repository.LedgerRepository) *WithdrawHandler {
	return &WithdrawHandler{svc: svc, repo: repo}
}

// POST /api/wallet/withdraw
func (h *WithdrawHandler) Withdraw(c *gin.Context) {
	var req service.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, service.WithdrawResult{
			OK:      false,
			Error:   string(service.CodeInvalidInput),
			Details: "request body must be JSON with userId, walletAddress and amount",
		})
		return
	}

	res := h.svc.Withdraw(c.Request.Context(), req)
	c.JSON(statusFor(res), res)
}

// statusFor maps the uniform result onto an HTTP status; the body shape is
// the same on every path.
func statusFor(res *service.WithdrawResult) int {
	if res.OK {
		return http.StatusOK
	}
	switch service.Code(res.Error) {
	case service.CodeInvalidInput, service.CodeBelowMinimum:
		return http.StatusBadRequest
	case service.CodeUserNotFound:
		return http.StatusNotFound
	case service.CodeInsufficientBalance, service.CodeWithdrawalAlreadyPending:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GET /api/wallet/withdraw/:id
func (h *WithdrawHandler) GetWithdrawal(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid withdrawal id"})
		return
	}
	w, err := h.repo.GetWithdrawal(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "withdrawal not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          w.ID,
		"userId":      w.UserID,
		"amount":      service.FormatTokens(w.Amount),
		"toAddress":   w.ToAddress,
		"status":      w.Status,
		"txHash":      w.TxHash,
		"createdAt":   w.CreatedAt,
		"completedAt": w.CompletedAt,
	})
}

// GET /api/wallet/withdraw/history?userId=&page=&size=
func (h *WithdrawHandler) GetWithdrawHistory(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))

	list, total, err := h.repo.ListByUser(c.Request.Context(), userID, page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list withdrawals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "records": list})
}

// GET /api/wallet/balance?userId=
func (h *WithdrawHandler) GetBalance(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	user, err := h.repo.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":               service.FormatTokens(user.Balance),
		"lastWithdrawalAddress": user.LastWithdrawalAddress,
	})
}
