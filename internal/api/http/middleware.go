package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger logs one http_request line per request, at warn for 4xx
// and error for 5xx.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				lvl := zapcore.InfoLevel
				switch {
				case status >= 500:
					lvl = zapcore.ErrorLevel
				case status >= 400:
					lvl = zapcore.WarnLevel
				}
				log.Check(lvl, "http_request").Write(
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Int("status", status),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Duration("latency", time.Since(start)),
					zap.String("client_ip", r.RemoteAddr),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
