package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	meterName           = "finitefield.org/usermapping/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file knows the reference.
var ErrNotFound = errors.New("secrets: value not found")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (accessClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// (or sm://) references against Google Secret Manager. Values are
// cached for a bounded time, and a local KEY=VALUE file answers when Secret Manager cannot.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	logger     *zap.Logger
	now        func() time.Time

	env         string
	project     string
	projectMap  map[string]string
	versionPins map[string]string
	ttl         time.Duration

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cachedSecret

	latency metric.Float64Histogram
	hits    metric.Int64Counter
}

type cachedSecret struct {
	value   string
	expires time.Time
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment selects the key used for per-environment project and version lookups.
func WithEnvironment(env string) Option {
	return func(f *Fetcher) {
		if env = strings.ToLower(strings.TrimSpace(env)); env != "" {
			f.env = env
		}
	}
}

// WithDefaultProject sets the project used when no environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) { f.project = strings.TrimSpace(projectID) }
}

// WithProjectMap supplies environment-specific project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(f *Fetcher) { f.projectMap = cloneMap(m) }
}

// WithVersionPins pins versions by canonical reference, optionally prefixed with "<env>:".
func WithVersionPins(pins map[string]string) Option {
	return func(f *Fetcher) { f.versionPins = cloneMap(pins) }
}

// WithFallbackFile overrides the path to the local fallback secrets file. Empty disables it.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.fallbackPath = strings.TrimSpace(path) }
}

// WithCacheTTL bounds how long a resolved value is reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// WithClock injects the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithMeter records fetch metrics on the supplied meter.
func WithMeter(m metric.Meter) Option {
	return func(f *Fetcher) {
		if m != nil {
			f.registerMetrics(m)
		}
	}
}

// WithSecretManagerClient injects a preconfigured client. The fetcher will not close it.
func WithSecretManagerClient(client accessClient) Option {
	return func(f *Fetcher) { f.client = client }
}

// NewFetcher builds a Fetcher. When no client is injected one is dialled with clientOpts; a dial
// failure leaves the fetcher in fallback-only mode rather than failing startup.
func NewFetcher(ctx context.Context, opts []Option, clientOpts ...option.ClientOption) (*Fetcher, error) {
	f := &Fetcher{
		logger:       zap.NewNop(),
		now:          time.Now,
		env:          defaultEnvironment,
		ttl:          defaultCacheTTL,
		fallbackPath: defaultFallbackPath,
		cache:        make(map[string]cachedSecret),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.latency == nil {
		f.registerMetrics(otel.GetMeterProvider().Meter(meterName))
	}

	if f.client == nil {
		client, err := newSecretManagerClient(ctx, clientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager client unavailable; using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

func (f *Fetcher) registerMetrics(m metric.Meter) {
	latency, err := m.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	)
	if err == nil {
		f.latency = latency
	}
	hits, err := m.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	)
	if err == nil {
		f.hits = hits
	}
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret satisfies the config package's resolver contract.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the secret value for ref, consulting the cache, Secret Manager and the fallback
// file in that order. Permission, auth and availability errors fall through to the file; any other
// remote error is returned.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := f.now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	version := f.version(parsed)
	key := parsed.canonical + "#" + version

	if value, ok := f.cached(key); ok {
		if f.hits != nil {
			f.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", maskReference(parsed.canonical))))
		}
		return value, nil
	}

	if projectID := f.projectID(parsed); projectID != "" && f.client != nil {
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, parsed.secret, version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		switch {
		case err == nil && resp.GetPayload() != nil:
			value := string(resp.GetPayload().GetData())
			f.store(key, value)
			f.observe(ctx, start, "remote")
			return value, nil
		case err == nil:
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: empty payload for %s", parsed.canonical)
		case !fallbackEligible(err):
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.canonical, err)
		default:
			f.logger.Debug("secrets: falling back to local file", zap.String("ref", maskReference(parsed.canonical)), zap.Error(err))
		}
	}

	value, ok := f.lookupFallback(parsed, version)
	if !ok {
		f.observe(ctx, start, "error")
		return "", fmt.Errorf("%w: %s", ErrNotFound, parsed.canonical)
	}
	f.store(key, value)
	f.observe(ctx, start, "fallback")
	return value, nil
}

// Invalidate drops every cached version of ref.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	prefix := parsed.canonical + "#"
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		if strings.HasPrefix(key, prefix) {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	if !f.now().Before(entry.expires) {
		delete(f.cache, key)
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = cachedSecret{value: value, expires: f.now().Add(f.ttl)}
	f.mu.Unlock()
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	elapsed := f.now().Sub(start)
	f.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(attribute.String("source", source)))
}

func (f *Fetcher) projectID(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projectMap[f.env]); id != "" {
		return id
	}
	return f.project
}

func (f *Fetcher) version(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	for _, key := range []string{f.env + ":" + ref.canonical, ref.canonical} {
		if pin := strings.TrimSpace(f.versionPins[key]); pin != "" {
			return pin
		}
	}
	return "latest"
}

func (f *Fetcher) lookupFallback(ref reference, version string) (string, bool) {
	f.fallbackOnce.Do(func() {
		values, err := readFallbackFile(f.fallbackPath)
		if err != nil {
			f.logger.Warn("secrets: fallback file unreadable", zap.String("path", f.fallbackPath), zap.Error(err))
		}
		f.fallback = values
	})
	if value, ok := f.fallback[ref.canonical+"#"+version]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.canonical]
	return value, ok
}

// readFallbackFile parses KEY=VALUE lines. Keys that are secret references are indexed both by
// canonical form and by canonical#version.
func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return values, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if parsed, err := parseReference(key); err == nil {
			version := parsed.version
			if version == "" {
				version = "latest"
			}
			values[parsed.canonical] = value
			values[parsed.canonical+"#"+version] = value
			continue
		}
		values[key] = value
	}
	return values, scanner.Err()
}

type reference struct {
	canonical string
	secret    string
	version   string
	project   string
}

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	return reference{
		canonical: "secret://" + name,
		secret:    name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func maskReference(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
