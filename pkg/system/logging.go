// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise the fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// RequestLogger stores a logger carrying the client IP and route in the gin
// context so handlers can pick it up with GetReqLogger.
func RequestLogger(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ReqLoggerKey, base.With("clientIP", c.ClientIP(), "route", c.FullPath()))
		c.Next()
	}
}

// EnrichReqLoggerWithSession annotates the request-scoped logger with the
// signed-in user's uid and email when the session middleware has set them.
func EnrichReqLoggerWithSession(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	if uid := c.GetString("uid"); uid != "" {
		reqLogger = reqLogger.With("uid", uid)
	}
	if email := c.GetString("email"); email != "" {
		reqLogger = reqLogger.With("email", email)
	}
	return reqLogger
}

// MailFields returns key/value pairs identifying a mail record for
// SugaredLogger calls. to is omitted when empty.
func MailFields(id, to string) []interface{} {
	if to == "" {
		return []interface{}{"id", id}
	}
	return []interface{}{"id", id, "to", to}
}
