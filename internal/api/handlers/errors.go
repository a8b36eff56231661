package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/coreledger/txcore/internal/pkg/errors"
)

// statusFor maps a typed core error Code to its transport status. This is
// the one place in the codebase HTTP status codes and error Codes meet.
func statusFor(code apierrors.Code) int {
	switch code {
	case apierrors.CodeValidation:
		return http.StatusBadRequest
	case apierrors.CodeLimitExceeded, apierrors.CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case apierrors.CodeAccountNotFound, apierrors.CodeNotFound:
		return http.StatusNotFound
	case apierrors.CodeAlreadyReversed, apierrors.CodeConflict:
		return http.StatusConflict
	case apierrors.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case apierrors.CodeInvalidState:
		return http.StatusUnprocessableEntity
	case apierrors.CodeManualAction:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := apierrors.CodeOf(err)
	c.JSON(statusFor(code), gin.H{
		"code":    code,
		"message": err.Error(),
	})
}
