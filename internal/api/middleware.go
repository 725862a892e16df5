package api

import (
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

const authRealm = `Basic realm="svbcapture"`

// httpLogging logs each request at a level chosen by its status code.
func httpLogging(logger *slog.Logger) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		attrs := []slog.Attr{
			slog.String("method", ctx.Method()),
			slog.String("path", ctx.URL().Path),
			slog.String("remote_addr", ctx.RemoteAddr()),
		}
		if q := ctx.URL().RawQuery; q != "" && !strings.Contains(q, "auth=") {
			attrs = append(attrs, slog.String("query", q))
		}

		next(ctx)

		status := ctx.Status()
		attrs = append(attrs,
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		)

		level := slog.LevelInfo
		switch {
		case ctx.Method() == http.MethodOptions:
			level = slog.LevelDebug
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		logger.LogAttrs(ctx.Context(), level, "HTTP request completed", attrs...)
	}
}

// cors sets permissive CORS headers and answers preflight requests.
func cors(origin string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		setCORSHeaders(ctx.SetHeader, origin)
		if ctx.Method() == http.MethodOptions {
			ctx.SetStatus(http.StatusNoContent)
			return
		}
		next(ctx)
	}
}

func setCORSHeaders(set func(name, value string), origin string) {
	set("Access-Control-Allow-Origin", origin)
	set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin")
	set("Access-Control-Max-Age", "86400")
}

// basicAuth checks credentials on operations that declare a security
// requirement. SSE clients that cannot set headers may pass the base64
// "user:password" pair in the auth query parameter.
func (s *Server) basicAuth(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if op := ctx.Operation(); op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		encoded := ctx.Query("auth")
		if h := ctx.Header("Authorization"); h != "" {
			var ok bool
			encoded, ok = strings.CutPrefix(h, "Basic ")
			if !ok {
				s.unauthorized(ctx, "Invalid authentication type")
				return
			}
		}
		if encoded == "" {
			s.unauthorized(ctx, "Authentication required")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			s.unauthorized(ctx, "Invalid credentials format")
			return
		}
		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok {
			s.unauthorized(ctx, "Invalid credentials format")
			return
		}
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
		if !userOK || !passOK {
			s.unauthorized(ctx, "Invalid credentials")
			return
		}
		next(ctx)
	}
}

func (s *Server) unauthorized(ctx huma.Context, msg string) {
	ctx.SetHeader("WWW-Authenticate", authRealm)
	_ = huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg)
}
