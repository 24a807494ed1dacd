package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lyra-ai/lyra-gateway/pkg/core"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/ratelimit"
)

// SessionLimit gates session-opening endpoints. The permit is held for the
// life of the handler, which for a WebSocket session is the whole call.
func SessionLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := "anonymous"
		if p, ok := PrincipalFrom(r.Context()); ok {
			client = ratelimit.ClientKeyFromAPIKey(p.APIKey)
		}

		dec := limiter.AcquireSession(client, time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			cerr := core.NewRateLimitError("session rate limit exceeded", dec.RetryAfter)
			cerr.RequestID = reqID
			if dec.RetryAfter <= 0 {
				cerr.RetryAfter = nil
			}
			writeJSONError(w, http.StatusTooManyRequests, cerr)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}
