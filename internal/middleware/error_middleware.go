package middleware

import (
	"net/http"

	"bimhub-api/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func ErrorMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()

			if appErr, ok := err.Err.(*errors.AppError); ok {
				c.JSON(appErr.Status, errors.ErrorResponse{
					Error:   appErr.Code,
					Message: appErr.Message,
				})
				return
			}

			logger.Error().Err(err.Err).Str("path", c.Request.URL.Path).Msg("unhandled error")
			c.JSON(http.StatusInternalServerError, errors.ErrorResponse{
				Error:   errors.ErrInternalServer.Code,
				Message: "Internal server error",
			})
		}
	}
}
