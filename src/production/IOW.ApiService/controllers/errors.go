package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gitlab.com/maplesense1/iotwatch.server/src/production/IOW.ApiService/middleware"
	logger "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Logger"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

// respondError maps the repository error taxonomy onto HTTP status codes
func respondError(ctx *gin.Context, log *logger.Logger, err error) {
	_ = ctx.Error(err)

	switch {
	case errors.Is(err, interfaces.ErrValidation):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
	case errors.Is(err, interfaces.ErrUnauthorized):
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	case errors.Is(err, interfaces.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.WithRequestID(middleware.GetRequestID(ctx)).
			WithField("path", ctx.FullPath()).
			WithError(err).
			Error("Request failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
	}
}

func validationMessage(err error) string {
	var verr *interfaces.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return err.Error()
}

func badRequest(field, reason string) error {
	return interfaces.NewValidationError(field, reason)
}

// bindError turns a ShouldBindJSON failure into a validation error naming the
// offending field
func bindError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return badRequest(typeErr.Field, "must be a "+jsonKind(typeErr.Type))
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return badRequest(strings.ToLower(fieldErrs[0].Field()), "is required")
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return badRequest("body", "must be valid JSON")
	}
	if errors.Is(err, io.EOF) {
		return badRequest("body", "is required")
	}
	return badRequest("body", "must be a JSON object")
}

func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Float32, reflect.Float64,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	}
	return t.String()
}
