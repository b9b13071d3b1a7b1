package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"policy-core/internal/apperrors"
	"policy-core/internal/authz"
	"policy-core/internal/hashing"
	"policy-core/internal/metrics"
	"policy-core/internal/models"
	"policy-core/internal/ratelimit"
	"policy-core/internal/securitylog"
	"policy-core/internal/util"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// RequireTier runs the tier's authorization chain on the bearer credential
// and hands the resulting RequestContext to next.
func RequireTier(chains *authz.Chains, tier authz.Tier, logger *zap.Logger) func(http.Handler) http.Handler {
	h := responder{logger: logger}
	chain := chains.For(tier)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, err := chain.Authorize(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				status := getStatusCode(err)
				if status == http.StatusUnauthorized {
					w.Header().Set("WWW-Authenticate", `Bearer realm="policy-core"`)
				}
				h.respondWithError(w, status, err, "Request not authorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(authz.WithRequestContext(r.Context(), rc)))
		})
	}
}

// RequireSecret admits requests whose header carries the shared secret.
// An unset secret refuses everything.
func RequireSecret(header, secret, setting string, logger *zap.Logger) func(http.Handler) http.Handler {
	h := responder{logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				h.respondWithError(w, http.StatusInternalServerError, &apperrors.ConfigError{Setting: setting}, "Endpoint disabled")
				return
			}
			if !hashing.SecretsEqual(r.Header.Get(header), secret) {
				h.respondWithError(w, http.StatusUnauthorized, apperrors.Unauthenticated("invalid or missing secret"), "Request not authorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitOptions configures the RateLimit middleware.
type RateLimitOptions struct {
	Limiter       *ratelimit.Limiter
	Fingerprinter *hashing.Fingerprinter
	Limit         int
	Window        time.Duration
	Events        *securitylog.Recorder
	Metrics       *metrics.Collector
}

// RateLimit rejects callers whose fingerprint exceeded the window budget.
func RateLimit(opts RateLimitOptions, logger *zap.Logger) func(http.Handler) http.Handler {
	h := responder{logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fp := ratelimit.Fingerprint(opts.Fingerprinter, r.RemoteAddr, r.UserAgent(), r.Header.Get("X-Client-ID"))
			d := opts.Limiter.Check(fp, opts.Limit, opts.Window)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				retry := int(time.Until(d.ResetAt).Seconds()) + 1
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				opts.Metrics.RateLimited()
				opts.Events.Record(models.SecurityEvent{
					EventType:   models.EventRateLimited,
					Fingerprint: fp,
					Reason:      r.URL.Path,
				})
				h.respondWithError(w, http.StatusTooManyRequests, apperrors.ErrRateLimited, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestContext(r *http.Request) (*authz.RequestContext, error) {
	rc, ok := authz.FromContext(r.Context())
	if !ok {
		return nil, errors.New("request context missing")
	}
	return rc, nil
}
