package util

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the data payload of the unified success envelope.
type Response map[string]interface{}

// Business error codes.
const (
	CodeOK                = 0
	CodeInvalidParam      = 40001
	CodeInsufficientFunds = 40002
	CodeAuth              = 40101
	CodeNotFound          = 40401
	CodeUnprocessable     = 42201
	CodeConflict          = 40901
	CodeServerErr         = 50001
	CodeGateway           = 50201
)

// Success writes the unified success envelope.
func Success(c *gin.Context, data Response) {
	c.JSON(http.StatusOK, gin.H{
		"code": CodeOK,
		"data": data,
	})
}

// Error writes the unified error envelope.
func Error(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
	})
}

// FieldError writes a structured field-level validation error, used by
// the manual-disbursement form.
func FieldError(c *gin.Context, httpStatus int, field, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    CodeInvalidParam,
		"message": msg,
		"errors":  gin.H{field: msg},
	})
}
