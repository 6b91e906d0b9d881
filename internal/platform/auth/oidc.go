package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"finitefield.org/usermapping/internal/platform/httpx"
	"finitefield.org/usermapping/internal/platform/requestctx"
)

const meterName = "finitefield.org/usermapping/internal/platform/auth"

var (
	// ErrTokenMissing is returned when neither the Authorization nor the IAP header carries a token.
	ErrTokenMissing = errors.New("auth: oidc token missing")
	// ErrTokenInvalid covers signature, expiry, issuer and audience failures.
	ErrTokenInvalid = errors.New("auth: oidc token invalid")
	// ErrVerifierUnavailable is returned when keys cannot be fetched or no audience is configured.
	ErrVerifierUnavailable = errors.New("auth: oidc verification unavailable")
)

// VerificationError carries the machine-readable reason for a rejected token.
type VerificationError struct {
	Reason string
	Err    error
	cause  error
}

func (e *VerificationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%s): %v", e.Err, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s (%s)", e.Err, e.Reason)
}

func (e *VerificationError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Err, e.cause}
	}
	return []error{e.Err}
}

func rejection(kind error, reason string, cause error) error {
	return &VerificationError{Reason: reason, Err: kind, cause: cause}
}

// OIDCValidator validates Google-signed OIDC and IAP tokens for the internal endpoints.
type OIDCValidator struct {
	cache     *JWKSCache
	audiences []string
	issuers   map[string]struct{}
	logger    Logger
	now       func() time.Time
	outcomes  metric.Int64Counter
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

// WithOIDCLogger overrides the validator logger.
func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCClock injects a custom clock used for expiry checks.
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithOIDCMeter records verification outcomes on the supplied meter instead of the global one.
func WithOIDCMeter(meter metric.Meter) OIDCOption {
	return func(v *OIDCValidator) {
		if meter != nil {
			v.outcomes = newOutcomeCounter(meter)
		}
	}
}

// NewOIDCValidator builds a validator accepting tokens addressed to any of audiences and issued by
// one of issuers. An empty issuer list accepts any issuer the key set can verify.
func NewOIDCValidator(cache *JWKSCache, audiences []string, issuers []string, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{
		cache:   cache,
		issuers: make(map[string]struct{}, len(issuers)),
		logger:  discardLogger{},
		now:     time.Now,
	}
	for _, audience := range audiences {
		if audience = strings.TrimSpace(audience); audience != "" {
			v.audiences = append(v.audiences, audience)
		}
	}
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			v.issuers[issuer] = struct{}{}
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if v.outcomes == nil {
		v.outcomes = newOutcomeCounter(otel.GetMeterProvider().Meter(meterName))
	}
	return v
}

func newOutcomeCounter(meter metric.Meter) metric.Int64Counter {
	counter, err := meter.Int64Counter("auth.oidc.verifications",
		metric.WithDescription("Count of OIDC token verifications by outcome"),
	)
	if err != nil {
		return nil
	}
	return counter
}

// Verify checks the raw token and returns the identity it asserts.
func (v *OIDCValidator) Verify(ctx context.Context, raw string) (*ServiceIdentity, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if v == nil || v.cache == nil || len(v.audiences) == 0 {
		return nil, rejection(ErrVerifierUnavailable, "audience_not_configured", nil)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, rejection(ErrTokenMissing, "token_missing", nil)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(raw, claims, v.cache.Keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			return nil, rejection(ErrVerifierUnavailable, "jwks_unavailable", err)
		}
		return nil, rejection(ErrTokenInvalid, "token_invalid", err)
	}
	now := v.now().Unix()
	if !claims.VerifyExpiresAt(now, true) || !claims.VerifyNotBefore(now, false) || !claims.VerifyIssuedAt(now+60, false) {
		return nil, rejection(ErrTokenInvalid, "token_expired", nil)
	}

	issuer, _ := claims["iss"].(string)
	if len(v.issuers) > 0 {
		if _, ok := v.issuers[issuer]; !ok {
			return nil, rejection(ErrTokenInvalid, "issuer_mismatch", fmt.Errorf("issuer %q", issuer))
		}
	}

	audience, ok := matchAudience(claims, v.audiences)
	if !ok {
		return nil, rejection(ErrTokenInvalid, "audience_mismatch", nil)
	}

	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	copied := make(map[string]any, len(claims))
	for k, value := range claims {
		copied[k] = value
	}
	return &ServiceIdentity{
		Subject:  subject,
		Email:    email,
		Issuer:   issuer,
		Audience: audience,
		Claims:   copied,
	}, nil
}

// RequireOIDC rejects requests that do not carry a valid token. Verified callers are stored on
// the context and annotated on the request log.
func (v *OIDCValidator) RequireOIDC() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, err := v.Verify(ctx, extractToken(r))
			if err != nil {
				reason := "token_invalid"
				var verr *VerificationError
				if errors.As(err, &verr) {
					reason = verr.Reason
				}
				v.record(ctx, false, reason)
				if v != nil {
					v.logger.Printf("auth: oidc verification failed: %v", err)
				}
				writeVerificationError(ctx, w, err)
				return
			}
			v.record(ctx, true, "ok")
			requestctx.Annotate(ctx, "caller", identity.Caller())
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string) {
	if v == nil || v.outcomes == nil {
		return
	}
	v.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	))
}

func writeVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrVerifierUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "oidc verification unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, ErrTokenMissing):
		w.Header().Set("WWW-Authenticate", `Bearer realm="internal"`)
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnauthenticated, "oidc token missing", http.StatusUnauthorized))
	default:
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "oidc token verification failed", http.StatusUnauthorized))
	}
}

func extractToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}

func matchAudience(claims jwt.MapClaims, accepted []string) (string, bool) {
	var presented []string
	switch aud := claims["aud"].(type) {
	case string:
		presented = []string{aud}
	case []string:
		presented = aud
	case []any:
		for _, item := range aud {
			if s, ok := item.(string); ok {
				presented = append(presented, s)
			}
		}
	}
	for _, candidate := range presented {
		candidate = strings.TrimSpace(candidate)
		for _, want := range accepted {
			if candidate == want {
				return want, true
			}
		}
	}
	return "", false
}
