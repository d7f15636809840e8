package handlers

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/pkg/logger"
	"github.com/huangang/contractorhub/backend/pkg/response"
)

// fail writes err through the response envelope. Anything that is not an
// AppError, and every retryable external failure, is logged with its cause
// because the client only sees a generic message.
func fail(c *gin.Context, err error) {
	var appErr *response.AppError
	if !errors.As(err, &appErr) || appErr.Err != nil {
		logger.Error().
			Err(err).
			Str("request_id", logger.RequestID(c)).
			Str("path", c.FullPath()).
			Msg("request failed")
	}
	response.Error(c, err)
}

// paramID parses a positive numeric path parameter, answering 400 otherwise.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// bindOptionalJSON binds a JSON body when one is sent. An empty body, with or
// without Content-Length, leaves obj at its zero value.
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, err.Error())
		return false
	}
	return true
}
