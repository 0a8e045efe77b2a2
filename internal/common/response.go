package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    SUCCESS,
		Message: errorMsg[SUCCESS],
		Data:    data,
	})
}

// Error reports err with the HTTP status that matches its code.
func Error(c *gin.Context, err error) {
	e := ConvertErr(err)
	c.JSON(httpStatus(e.ErrCode), Response{
		Code:    e.ErrCode,
		Message: e.ErrMsg,
		Data:    nil,
	})
}

func httpStatus(code int) int {
	switch code {
	case SESSION_NOT_FOUND:
		return http.StatusNotFound
	case MALFORMED_REQUEST:
		return http.StatusBadRequest
	case SERVICE_ERR, WATCH_TRANSPORT, ORCHESTRATOR_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
