package capture

import (
	"net/http"

	httperr "github.com/aevon-lab/aevon-capture/internal/core/errors"
	"github.com/gin-gonic/gin"
)

const msgServerError = "Something went wrong while processing the event."

func writeSuccess(c *gin.Context) {
	c.JSON(http.StatusOK, httperr.SuccessResponse{Status: 1})
}

// writeValidationError serializes a client failure. item is only present for
// per-event failures.
func writeValidationError(c *gin.Context, err *Error) {
	resp := httperr.ErrorResponse{
		Code:    httperr.CodeValidation,
		Message: err.Message,
	}
	if err.Item != nil {
		resp.Item = err.Item
	}
	c.JSON(err.Kind.Status(), resp)
}

func writeServerError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		Code:    httperr.CodeServerError,
		Message: msgServerError,
	})
}
