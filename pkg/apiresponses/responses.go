/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apiresponses

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// APIError represents a standardized error response.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes returned in APIError.Code.
const (
	CodeValidation       = "VALIDATION_FAILED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInvalidCreds     = "INVALID_CREDENTIALS"
	CodeEmailNotVerified = "EMAIL_NOT_VERIFIED"
	CodeNotFound         = "NOT_FOUND"
	CodeUserNotFound     = "USER_NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeEmailTaken       = "EMAIL_TAKEN"
	CodeInvalidToken     = "INVALID_TOKEN"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL_ERROR"
	CodeUnavailable      = "SERVICE_UNAVAILABLE"
)

// RespondError sends status with an APIError body.
func RespondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, APIError{Error: message, Code: code})
}

// RespondNotFoundSimple sends a 404 Not Found response with a simple message.
func RespondNotFoundSimple(c *gin.Context, message string) {
	RespondError(c, http.StatusNotFound, CodeNotFound, message)
}

// RespondUnauthorizedWithMessage sends a 401 Unauthorized response with a custom message.
func RespondUnauthorizedWithMessage(c *gin.Context, message string) {
	if message == "" {
		message = "user not authenticated"
	}
	RespondError(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// RespondBadRequestWithDetails sends a 400 Bad Request with additional details.
func RespondBadRequestWithDetails(c *gin.Context, code, message, details string) {
	c.JSON(http.StatusBadRequest, APIError{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// RespondValidation sends a 400 VALIDATION_FAILED response. Binding errors
// from gin are flattened to "field: rule" pairs in Details.
func RespondValidation(c *gin.Context, message string, err error) {
	RespondBadRequestWithDetails(c, CodeValidation, message, DescribeValidation(err))
}

// DescribeValidation renders validator errors as "email: email, password: required".
// Any other error is returned as its message.
func DescribeValidation(err error) string {
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, lowerFirst(fe.Field())+": "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// RespondConflict sends a 409 Conflict response.
func RespondConflict(c *gin.Context, code, message string) {
	RespondError(c, http.StatusConflict, code, message)
}

// RespondInternalError sends a 500 Internal Server Error response.
// It logs the error with full details but returns a sanitized message to the client.
func RespondInternalError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	if log != nil {
		log.Errorw(fmt.Sprintf("Failed to %s", operation), "error", err)
	}
	RespondError(c, http.StatusInternalServerError, CodeInternal, fmt.Sprintf("failed to %s", operation))
}

// RespondServiceUnavailable sends a 503 Service Unavailable response.
func RespondServiceUnavailable(c *gin.Context, service string) {
	RespondError(c, http.StatusServiceUnavailable, CodeUnavailable, fmt.Sprintf("service unavailable: %s", service))
}

// RespondOK sends a 200 OK response with the given data.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// RespondCreated sends a 201 Created response with the given data.
func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// Message is the body of successful responses that carry no resource.
type Message struct {
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
}

// RespondMessage sends 200 with a Message body.
func RespondMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Message{Message: message})
}
