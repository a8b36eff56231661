package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/coreledger/txcore/internal/domain/engine"
)

type transactionResponse struct {
	TransactionID string  `json:"transactionId"`
	Kind          string  `json:"kind"`
	Status        string  `json:"status"`
	FromAccountID string  `json:"fromAccountId"`
	ToAccountID   string  `json:"toAccountId"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	CreatedAt     string  `json:"createdAt"`
	ProcessedAt   *string `json:"processedAt,omitempty"`
	FailureReason string  `json:"failureReason,omitempty"`
}

func toResponse(p engine.Projection) transactionResponse {
	resp := transactionResponse{
		TransactionID: p.TransactionID,
		Kind:          string(p.Kind),
		Status:        string(p.Status),
		FromAccountID: p.FromAccountID,
		ToAccountID:   p.ToAccountID,
		Amount:        p.Amount.StringFixed(2),
		Currency:      p.Currency,
		CreatedAt:     p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		FailureReason: p.FailureReason,
	}
	if p.ProcessedAt != nil {
		formatted := p.ProcessedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.ProcessedAt = &formatted
	}
	return resp
}

func respondTransaction(c *gin.Context, status int, p engine.Projection) {
	c.JSON(status, toResponse(p))
}
