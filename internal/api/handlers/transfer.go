package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/coreledger/txcore/internal/domain/engine"
)

type transferBody struct {
	FromAccountID  string `json:"fromAccountId" binding:"required"`
	ToAccountID    string `json:"toAccountId" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	Description    string `json:"description"`
	Reference      string `json:"reference"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// MakeTransferHandler returns a closure-bound handler for POST /transfers.
func MakeTransferHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body transferBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		amount, err := decimal.NewFromString(body.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}

		projection, err := deps.GetEngine().Transfer(c.Request.Context(), engine.TransferRequest{
			FromAccountID:  body.FromAccountID,
			ToAccountID:    body.ToAccountID,
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
