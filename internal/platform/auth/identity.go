package auth

import (
	"cmp"
	"context"
	"strings"
)

// ServiceIdentity is the verified caller of an /internal route, usually Cloud Scheduler or a
// deploy pipeline acting as a service account.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
	Claims   map[string]any
}

// Caller names the principal for logs, rate limits and RequestedBy: the email when the token
// carries one, else the subject.
func (s *ServiceIdentity) Caller() string {
	if s == nil {
		return ""
	}
	return cmp.Or(strings.TrimSpace(s.Email), strings.TrimSpace(s.Subject))
}

type identityKey struct{}

func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, identity)
}

func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, _ := ctx.Value(identityKey{}).(*ServiceIdentity)
	return identity, identity != nil
}
