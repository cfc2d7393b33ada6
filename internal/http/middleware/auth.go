package middleware

import (
	"bytes"
	"strings"

	"github.com/valyala/fasthttp"

	"netpulse/internal/config"
)

// CaptureAuth gates the capture endpoints behind the configured static
// bearer token. An empty configured token disables the gate entirely
// (local development). User-level authentication is out of scope; the
// token only keeps strangers from writing into the bronze log.
func CaptureAuth(cfg *config.Config) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if cfg.CaptureToken == "" {
				next(ctx)
				return
			}

			auth := ctx.Request.Header.Peek("Authorization")
			if len(auth) == 0 {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !bytes.HasPrefix(auth, []byte(prefix)) {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid Authorization header")
				return
			}

			token := strings.TrimSpace(string(auth[len(prefix):]))
			if token != cfg.CaptureToken {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid capture token")
				return
			}

			next(ctx)
		}
	}
}
