package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger пишет журнал запросов служебного сервера.
// Успешные проверки /health и /ready идут на уровне debug, чтобы не засорять журнал
func Logger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status < http.StatusBadRequest {
			level = slog.LevelDebug
		}
		logger.Log(c.Request.Context(), level, "служебный запрос",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		)

		for _, e := range c.Errors {
			logger.Error("ошибка служебного запроса", "route", c.FullPath(), "error", e.Err)
		}
	}
}

// Recovery перехватывает панику обработчика и отвечает 500
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("паника в служебном обработчике", "route", c.FullPath(), "panic", rec)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"status": "ERROR",
					"error":  "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
