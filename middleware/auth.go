package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"transactionService/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// RequestIDHeader - заголовок с идентификатором запроса
const RequestIDHeader = "X-Request-ID"

// User - вызывающий, установленный по JWT
type User struct {
	ID       int64
	Username string
}

type userKey struct{}

// WithUser возвращает контекст с пользователем
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext получает пользователя из контекста
func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userKey{}).(User)
	return user, ok
}

type LoggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *LoggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware присваивает запросу идентификатор, кладет логгер в контекст
// и логирует информацию о запросе и ответе
func LoggingMiddleware(logger *slog.Logger, metrics *utils.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLogger := logger.With("request_id", requestID)
			r = r.WithContext(utils.WithLogger(r.Context(), reqLogger))

			// Создаем обертку для ResponseWriter
			lrw := &LoggingResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(lrw, r)

			duration := time.Since(start)
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			if metrics != nil {
				metrics.RecordRequest(r.Method, route, lrw.statusCode, duration)
			}

			reqLogger.InfoContext(r.Context(), "http запрос",
				"method", r.Method,
				"path", r.URL.Path,
				"status", lrw.statusCode,
				"duration", duration,
			)
		})
	}
}

// AuthMiddleware проверяет JWT токен и добавляет пользователя в контекст запроса
func AuthMiddleware(jwtKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Получаем токен из заголовка
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				writeRejection(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header is required")
				return
			}
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")

			// Парсим и проверяем токен
			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return jwtKey, nil
			})
			if err != nil || !token.Valid {
				writeRejection(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeRejection(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token claims")
				return
			}

			userID, ok := claims["user_id"].(float64)
			if !ok {
				writeRejection(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid user_id in token")
				return
			}
			user := User{ID: int64(userID)}
			if username, ok := claims["username"].(string); ok {
				user.Username = username
			} else if sub, err := claims.GetSubject(); err == nil {
				user.Username = sub
			}
			if user.Username == "" {
				user.Username = strconv.FormatInt(user.ID, 10)
			}

			ctx := WithUser(r.Context(), user)
			utils.LoggerFromContext(ctx).DebugContext(ctx, "пользователь аутентифицирован", "user_id", user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware ограничивает частоту запросов вызывающего.
// Ключ - пользователь из JWT, без него - IP-адрес
func RateLimitMiddleware(limiter *utils.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := remoteHost(r)
			if user, ok := UserFromContext(r.Context()); ok {
				key = "user:" + strconv.FormatInt(user.ID, 10)
			}

			if !limiter.Allow(key) {
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(limiter.ResetAt(key)).Seconds())+1))
				writeRejection(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}

			// Добавляем заголовки с информацией о лимитах
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(limiter.ResetAt(key).Unix(), 10))

			next.ServeHTTP(w, r)
		})
	}
}

// RecoveryMiddleware превращает панику обработчика в ответ 500
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "паника в обработчике", "panic", err, "path", r.URL.Path)
				writeRejection(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRejection(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"timestamp": time.Now(),
		"status":    "ERROR",
		"code":      code,
		"message":   message,
	})
}
