package bizerror

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"workshop/common"
)

func ErrorHandling() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handle(c)
		c.Next()
	}
}

func handle(c *gin.Context) {
	if ret := recover(); ret != nil {
		err, ok := ret.(error)
		if !ok {
			err = fmt.Errorf("%v", ret)
		}
		HandleError(c, err)
	} else {
		if err := c.Errors.Last(); err != nil {
			HandleError(c, err)
		}
	}
}

func HandleError(c *gin.Context, err error) {
	genericErr := err
	var ginErr *gin.Error
	if errors.As(err, &ginErr) {
		genericErr = ginErr.Err
	}

	var bizErr BizError
	if errors.As(genericErr, &bizErr) {
		respond := bizErr.Respond()
		logrus.WithField("code", respond.Code).Warn(genericErr)
		c.JSON(respond.Status, &common.ErrorBody{Code: respond.Code, Message: respond.Message, Data: respond.Data})
		c.Abort()
		return
	}

	logrus.Error(genericErr)

	// bad request:  io.EOF (no body).
	if errors.Is(genericErr, io.EOF) {
		c.JSON(http.StatusBadRequest, &common.ErrorBody{Code: "bad_request.body_not_found", Message: "body not found"})
		c.Abort()
		return
	}
	// bad request: json syntax Error
	var syntaxErr *json.SyntaxError
	if errors.As(genericErr, &syntaxErr) {
		c.JSON(http.StatusBadRequest, &common.ErrorBody{Code: "bad_request.invalid_body_format", Message: "invalid body format", Data: syntaxErr.Error()})
		c.Abort()
		return
	}
	// validation failed
	var validationErr validator.ValidationErrors
	if errors.As(genericErr, &validationErr) {
		c.JSON(http.StatusBadRequest, &common.ErrorBody{Code: "bad_request.validation_failed", Message: "validation failed", Data: validationErr.Error()})
		c.Abort()
		return
	}

	if errors.Is(genericErr, ErrOperationInFlight) {
		c.JSON(http.StatusConflict, &common.ErrorBody{Code: "common.operation_in_flight", Message: genericErr.Error()})
		c.Abort()
		return
	}
	if errors.Is(genericErr, ErrTooManyRequests) {
		c.JSON(http.StatusTooManyRequests, &common.ErrorBody{Code: "common.too_many_requests", Message: genericErr.Error()})
		c.Abort()
		return
	}
	if errors.Is(genericErr, ErrUnauthenticated) {
		c.JSON(http.StatusUnauthorized, &common.ErrorBody{Code: "common.unauthenticated", Message: "unauthenticated"})
		c.Abort()
		return
	}
	if errors.Is(genericErr, ErrForbidden) {
		c.JSON(http.StatusForbidden, &common.ErrorBody{Code: "security.forbidden", Message: "access forbidden"})
		c.Abort()
		return
	}

	c.JSON(http.StatusInternalServerError, &common.ErrorBody{Code: "common.internal_server_error", Message: genericErr.Error()})
	c.Abort()
}
