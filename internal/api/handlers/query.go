package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/coreledger/txcore/internal/domain/engine"
	"github.com/coreledger/txcore/internal/domain/ledger"
	"github.com/coreledger/txcore/internal/domain/models"
)

func viewerFrom(c *gin.Context) engine.Viewer {
	return engine.Viewer{Caller: callerFrom(c), Elevated: elevatedFrom(c)}
}

func pageFrom(c *gin.Context) ledger.Page {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return ledger.Page{Limit: limit, Offset: offset}
}

func respondList(c *gin.Context, projections []engine.Projection, total int) {
	responses := make([]transactionResponse, len(projections))
	for i, p := range projections {
		responses[i] = toResponse(p)
	}
	c.JSON(http.StatusOK, gin.H{"transactions": responses, "total": total})
}

// MakeGetByIDHandler returns a closure-bound handler for GET
// /transactions/:id.
func MakeGetByIDHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		projection, err := deps.GetEngine().GetByID(c.Request.Context(), viewerFrom(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		respondTransaction(c, http.StatusOK, projection)
	}
}

// MakeGetByAccountHandler returns a closure-bound handler for GET
// /accounts/:id/transactions.
func MakeGetByAccountHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		projections, total, err := deps.GetEngine().GetByAccount(c.Request.Context(), viewerFrom(c), c.Param("id"), pageFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		respondList(c, projections, total)
	}
}

// MakeGetByCallerHandler returns a closure-bound handler for GET
// /callers/:caller/transactions.
func MakeGetByCallerHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		projections, total, err := deps.GetEngine().GetByCaller(c.Request.Context(), viewerFrom(c), c.Param("caller"), pageFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		respondList(c, projections, total)
	}
}

// MakeSearchHandler returns a closure-bound handler for GET /transactions,
// filtering by the query parameters present.
func MakeSearchHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := ledger.Filter{
			AccountID:           c.Query("accountId"),
			CreatedBy:           c.Query("createdBy"),
			DescriptionContains: c.Query("descriptionContains"),
			Reference:           c.Query("reference"),
		}
		if kind := c.Query("kind"); kind != "" {
			filter.Kind = models.TransactionKind(kind)
		}
		if status := c.Query("status"); status != "" {
			filter.Status = models.TransactionStatus(status)
		}

		projections, total, err := deps.GetEngine().Search(c.Request.Context(), viewerFrom(c), filter, pageFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		respondList(c, projections, total)
	}
}
