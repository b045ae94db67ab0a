/*
 * COPYRIGHT 2024 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package clechozap is an echo request-logging middleware that writes
// through a zap logger. It logs a fixed field set (method, path, status,
// latency, remote IP, error) rather than the arbitrary field-registry
// this service's predecessor supported.
package clechozap

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Logger returns an echo middleware that logs each request through log
// at a level chosen by the response status code.
func Logger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			mwerr := next(c)
			if mwerr != nil {
				c.Error(mwerr)
			}
			latency := time.Since(start)

			req := c.Request()
			res := c.Response()

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", requestPath(req)),
				zap.Int("status", res.Status),
				zap.Duration("latency", latency),
				zap.String("remote_ip", c.RealIP()),
			}
			if mwerr != nil {
				fields = append(fields, zap.Error(mwerr))
			}

			n := res.Status
			msg := fmt.Sprintf("%s %s", req.Method, requestPath(req))
			switch {
			case n >= 500:
				log.Error(msg, fields...)
			case n >= 400:
				log.Warn(msg, fields...)
			default:
				log.Info(msg, fields...)
			}

			return nil
		}
	}
}

func requestPath(req *http.Request) string {
	p := req.URL.Path
	if p == "" {
		p = "/"
	}
	return p
}
