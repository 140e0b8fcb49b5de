package router

import (
	"github.com/bolt-mining/withdraw-service/handler"
	"github.com/gin-gonic/gin"
)

func SetupRouter(withdrawHandler *handler.WithdrawHandler) *gin.Engine {
	r := gin.Default()

	api := r.Group("/api/wallet")
	{
		api.POST("/withdraw", withdrawHandler.Withdraw)
		api.GET("/withdraw/history", withdrawHandler.GetWithdrawHistory)
		api.GET("/withdraw/:id", withdrawHandler.GetWithdrawal)
		api.GET("/balance", withdrawHandler.GetBalance)
	}

	return r
}
