package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"paperplan/internal/types"
)

// Authenticator resolves a request to an Actor. Identity verification is an
// external collaborator's job; implementations only translate whatever the
// upstream (edge proxy, session service) attached to the request.
type Authenticator interface {
	Authenticate(r *http.Request) (types.Actor, error)
}

// TrustedHeaderAuthenticator reads the identity injected by an
// authenticating edge proxy. It must only be deployed behind infrastructure
// that strips these headers from client traffic.
type TrustedHeaderAuthenticator struct{}

// Authenticate reads X-User-Id and X-User-Email.
func (TrustedHeaderAuthenticator) Authenticate(r *http.Request) (types.Actor, error) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthUnauthenticated,
			"no authenticated identity on request", nil)
	}
	return types.Actor{
		UserID: userID,
		Email:  r.Header.Get("X-User-Email"),
	}, nil
}

// HMACTokenAuthenticator verifies bearer tokens minted by an edge proxy that
// terminates end-user auth and shares a signing secret with this service.
// Token format: base64url(userID|email|expiresUnix) "." base64url(mac), with
// mac = HMAC-SHA256(payload, secret).
type HMACTokenAuthenticator struct {
	secret []byte
	nowFn  func() time.Time
}

// NewHMACTokenAuthenticator creates an HMACTokenAuthenticator. nowFn may be
// nil (time.Now); tests inject a fixed clock.
func NewHMACTokenAuthenticator(secret []byte, nowFn func() time.Time) *HMACTokenAuthenticator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &HMACTokenAuthenticator{secret: secret, nowFn: nowFn}
}

// SignActorToken mints a token for the identity, valid until expires. The
// edge proxy holds the same secret and produces the same format.
func SignActorToken(secret []byte, actor types.Actor, expires time.Time) string {
	payload := []byte(actor.UserID + "|" + actor.Email + "|" +
		strconv.FormatInt(expires.Unix(), 10))
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Authenticate verifies the Authorization bearer token. hmac.Equal keeps the
// signature comparison constant-time.
func (a *HMACTokenAuthenticator) Authenticate(r *http.Request) (types.Actor, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenMissing,
			"missing bearer token", nil)
	}

	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid,
			"malformed bearer token", nil)
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid,
			"malformed bearer token", err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid,
			"malformed bearer token", err)
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid,
			"bearer token signature mismatch", nil)
	}

	fields := strings.Split(string(payload), "|")
	if len(fields) != 3 || fields[0] == "" {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid,
			"malformed bearer token payload", nil)
	}
	expires, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid,
			"malformed bearer token expiry", err)
	}
	if a.nowFn().After(time.Unix(expires, 0)) {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid,
			"bearer token has expired", nil)
	}

	return types.Actor{UserID: fields[0], Email: fields[1]}, nil
}

// responseCapture wraps an http.ResponseWriter to capture the status code
// written by downstream handlers, for request logging.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer for http.ResponseController.
func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

// RequestID assigns a request ID (honoring an inbound X-Request-Id) and
// stores it in the context and the response headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), reqID)))
	})
}

// Recoverer catches panics in the handler chain, logs the stack trace, and
// writes a standardized 500 response. It must be the outermost middleware.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("panic", fmt.Sprintf("%v", rvr)),
						slog.String("stack", string(debug.Stack())),
					)
					Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected,
						"an unexpected error occurred", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs request metadata (method, path, status, duration).
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rc, r)

			logger.InfoContext(r.Context(), "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rc.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", types.GetRequestID(r.Context())),
			)
		})
	}
}

// RequireActor authenticates the request and stores the Actor in the
// context. Unauthenticated requests are rejected before any state is read.
func RequireActor(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := auth.Authenticate(r)
			if err != nil {
				Error(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
		})
	}
}
