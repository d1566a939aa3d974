// recovery.go: перехват паники в обработчиках.
package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	apierrors "github.com/metricafm/metrica-cms/internal/api/errors"
)

// Recovery возвращает middleware, превращающий panic в 500 с конвертом INTERNAL_ERROR.
// http.ErrAbortHandler пробрасывается дальше: им net/http прерывает ответ намеренно.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // сравнение значения panic
					panic(rec)
				}

				logger.Error("Паника в обработчике",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("stack", string(debug.Stack())),
				)

				apierrors.InternalError(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
