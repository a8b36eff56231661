package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/coreledger/txcore/internal/domain/engine"
)

type depositWithdrawBody struct {
	Amount         string `json:"amount" binding:"required"`
	Description    string `json:"description"`
	Reference      string `json:"reference"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// MakeDepositHandler returns a closure-bound handler for POST
// /accounts/:id/deposit.
func MakeDepositHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("id")
		var body depositWithdrawBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		amount, err := decimal.NewFromString(body.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}

		projection, err := deps.GetEngine().Deposit(c.Request.Context(), engine.DepositWithdrawRequest{
			AccountID:      accountID,
			Amount:         amount,
			Description:    body.Description,
			Reference:      body.Reference,
			Caller:         callerFrom(c),
			IdempotencyKey: body.IdempotencyKey,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		respondTransaction(c, http.StatusOK, projection)
	}
}
