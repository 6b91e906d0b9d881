package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"finitefield.org/usermapping/internal/platform/auth"
	"finitefield.org/usermapping/internal/platform/httpx"
	"finitefield.org/usermapping/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	anonymousCaller   = "anonymous"
)

type guard struct {
	store  Store
	header string
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger
}

// MiddlewareOption customises the guard.
type MiddlewareOption func(*guard)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long finished replies are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware makes unsafe requests replay-safe: the first request carrying a key runs the
// handler, later requests with the same key and body receive the stored reply.
// Safe methods pass through untouched.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:  store,
		header: defaultHeaderName,
		ttl:    DefaultTTL,
		clock:  time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next)
		})
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(g.header))
	if key == "" {
		reject(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing "+g.header+" header")
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		reject(ctx, w, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	caller := callerOf(ctx)
	stored := key + "|" + caller
	fingerprint := fingerprintOf(r, caller, body)
	log := g.logger.With(zap.String("idempotency_key", key), zap.String("caller", caller))

	claim, err := g.store.Claim(ctx, stored, fingerprint, g.clock().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrKeyReused):
		reject(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	case err != nil:
		log.Error("claim idempotency key", zap.Error(err))
		reject(ctx, w, http.StatusServiceUnavailable, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch claim.Outcome {
	case OutcomeReplay:
		requestctx.Annotate(ctx, "idempotency", "replayed")
		replay(w, claim.Entry.Reply)
		return
	case OutcomeInFlight:
		reject(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	}

	buf := &bufferedWriter{header: http.Header{}}
	next.ServeHTTP(buf, r)
	reply := buf.reply()

	if err := g.store.Complete(ctx, stored, fingerprint, reply, g.clock().UTC(), g.ttl); err != nil {
		log.Error("store idempotent reply", zap.Error(err))
		if err := g.store.Abandon(ctx, stored); err != nil {
			log.Error("abandon idempotency key", zap.Error(err))
		}
		reject(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	write(w, reply)
}

// RunJanitor purges expired keys every interval until ctx is cancelled.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.Purge(runCtx, time.Now().UTC(), batch)
			cancel()
			if err != nil {
				logger.Error("idempotency purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency purge", zap.Int("removed", removed))
			}
		}
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// fingerprintOf binds a key to the exact request it was first used with.
func fingerprintOf(r *http.Request, caller string, body []byte) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		caller,
	}
	if len(body) > 0 {
		parts = append(parts, digest(body))
	}
	return digest([]byte(strings.Join(parts, "\n")))
}

// callerOf returns the verified service account so two schedulers never share a key.
func callerOf(ctx context.Context) string {
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil {
		if caller := strings.TrimSpace(svc.Caller()); caller != "" {
			return caller
		}
	}
	return anonymousCaller
}

func reject(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func replay(w http.ResponseWriter, reply Reply) {
	w.Header().Set(replayHeaderName, "true")
	write(w, reply)
}

func write(w http.ResponseWriter, reply Reply) {
	dst := w.Header()
	for name, values := range reply.Header {
		dst[name] = append([]string(nil), values...)
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(reply.Body) > 0 {
		_, _ = w.Write(reply.Body)
	}
}

// bufferedWriter holds the handler's response until it has been stored.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) reply() Reply {
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	return Reply{Status: status, Header: b.header.Clone(), Body: bytes.Clone(b.body.Bytes())}
}
