package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coreledger/txcore/internal/domain/engine"
)

type reversalBody struct {
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// MakeReversalHandler returns a closure-bound handler for POST
// /transactions/:id/reverse.
func MakeReversalHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		transactionID := c.Param("id")
		var body reversalBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		projection, err := deps.GetEngine().Reverse(c.Request.Context(), engine.ReversalRequest{
			OriginalTransactionID: transactionID,
			Reason:                body.Reason,
			Caller:                callerFrom(c),
			IdempotencyKey:        body.IdempotencyKey,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		respondTransaction(c, http.StatusOK, projection)
	}
}
