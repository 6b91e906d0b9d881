package config

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 60 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultDatabaseKind         = "sqlite"
	defaultSQLiteDSN            = "file:usermapping.db?_pragma=busy_timeout(5000)"
	defaultIngestionTimeout     = 30 * time.Second
	defaultIngestionMaxPages    = 100
	defaultExportsPrefix        = "exports"
	defaultDownloadURLTTL       = 15 * time.Minute
	defaultRateLimitInternal    = 10
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Google signs service-to-service ID tokens with the accounts issuer; IAP uses its own.
var defaultIssuers = []string{"https://accounts.google.com", "https://cloud.google.com/iap"}

// KnownDatabaseKinds lists the storage engines the service can be pointed at.
var KnownDatabaseKinds = []string{"postgres", "sqlite", "sqlserver"}

// Config is the whole runtime configuration, one struct per concern.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Ingestion   IngestionConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Build       BuildConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the SQL engine holding the field registry and mapping store.
type DatabaseConfig struct {
	Kind            string
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

// ProfileEndpoint holds credentials for one remote profile system.
type ProfileEndpoint struct {
	URL   string
	Email string
	Token string
}

// Configured reports whether every credential is present.
func (p ProfileEndpoint) Configured() bool {
	return p.set() == 3
}

func (p ProfileEndpoint) set() int {
	n := 0
	for _, v := range []string{p.URL, p.Email, p.Token} {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

// IngestionConfig controls pulling field definitions from the source and target systems.
type IngestionConfig struct {
	Source    ProfileEndpoint
	Target    ProfileEndpoint
	OnStartup bool
	Timeout   time.Duration
	MaxPages  int
}

// PubSubConfig names the topic compiled documents are published to.
type PubSubConfig struct {
	ProjectID   string
	ExportTopic string
}

// StorageConfig lists the bucket export archives are written to.
type StorageConfig struct {
	ExportsBucket string
	ExportsPrefix string
	// SignerKeyFile is a service account JSON key used to sign download URLs; empty disables them.
	SignerKeyFile  string
	DownloadURLTTL time.Duration
}

type RateLimitConfig struct {
	InternalPerMinute int
}

// SecurityConfig governs who may call /internal.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification. Audiences maps an environment name to
// the audience expected there; Audience, when set, wins.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// BuildConfig carries release metadata surfaced by health endpoints.
type BuildConfig struct {
	Version   string
	CommitSHA string
}

// ValidationError lists the config fields that are missing or out of range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithEnvFile overrides the dotenv path. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets names config fields (e.g. "Ingestion.Source.Token") that must resolve to
// a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets makes Load panic instead of returning a MissingSecretsError.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// EnvironmentValues flattens the layers Load reads (dotenv, then process env, then the explicit
// map) so callers can build the secret fetcher from the same inputs before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	values, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = map[string]string{}
	}
	if options.useSystemEnv {
		maps.Copy(values, systemEnv())
	}
	maps.Copy(values, options.envMap)
	return values, nil
}

// Load builds the configuration from defaults, the dotenv file, the process environment and
// the explicit map, resolves secret references, then validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	cfg := read(newSource(options.envMap, options.useSystemEnv, dotenv))

	resolved := make(map[string]string, 3)
	for _, secret := range []struct {
		name  string
		field *string
	}{
		{"Database.DSN", &cfg.Database.DSN},
		{"Ingestion.Source.Token", &cfg.Ingestion.Source.Token},
		{"Ingestion.Target.Token", &cfg.Ingestion.Target.Token},
	} {
		value, err := resolveSecret(ctx, *secret.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*secret.field = value
		resolved[secret.name] = strings.TrimSpace(value)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func read(env source) Config {
	kind := strings.ToLower(env.str(defaultDatabaseKind, "API_DATABASE_KIND"))
	dsn := ""
	if kind == "sqlite" {
		dsn = defaultSQLiteDSN
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            env.str(defaultPort, "API_SERVER_PORT", "PORT"),
			ReadTimeout:     env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: env.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Database: DatabaseConfig{
			Kind:            kind,
			DSN:             env.str(dsn, "API_DATABASE_DSN"),
			MaxOpenConns:    env.integer("API_DATABASE_MAX_OPEN_CONNS", 0),
			ConnMaxLifetime: env.duration("API_DATABASE_CONN_MAX_LIFETIME", 0),
			Migrate:         env.flag("API_DATABASE_MIGRATE", true),
		},
		Ingestion: IngestionConfig{
			Source:    env.endpoint("SRC"),
			Target:    env.endpoint("TRG"),
			OnStartup: env.flag("API_INGEST_ON_STARTUP", true),
			Timeout:   env.duration("API_INGEST_TIMEOUT", defaultIngestionTimeout),
			MaxPages:  env.integer("API_INGEST_MAX_PAGES", defaultIngestionMaxPages),
		},
		PubSub: PubSubConfig{
			ProjectID:   env.str("", "API_PUBSUB_PROJECT_ID"),
			ExportTopic: env.str("", "API_PUBSUB_EXPORT_TOPIC"),
		},
		Storage: StorageConfig{
			ExportsBucket:  env.str("", "API_STORAGE_EXPORTS_BUCKET"),
			ExportsPrefix:  strings.Trim(env.str(defaultExportsPrefix, "API_STORAGE_EXPORTS_PREFIX"), "/"),
			SignerKeyFile:  env.str("", "API_STORAGE_SIGNER_KEY_FILE"),
			DownloadURLTTL: env.duration("API_STORAGE_DOWNLOAD_URL_TTL", defaultDownloadURLTTL),
		},
		RateLimits: RateLimitConfig{
			InternalPerMinute: env.integer("API_RATELIMIT_INTERNAL_PER_MIN", defaultRateLimitInternal),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str(defaultSecurityEnvironment, "API_SECURITY_ENVIRONMENT", "API_ENVIRONMENT")),
			OIDC: OIDCConfig{
				JWKSURL:   env.str(defaultOIDCJWKSURL, "API_SECURITY_OIDC_JWKS_URL"),
				Audience:  env.str("", "API_SECURITY_OIDC_AUDIENCE"),
				Audiences: env.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str(defaultIdempotencyHeader, "API_IDEMPOTENCY_HEADER"),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Build: BuildConfig{
			Version:   env.str("dev", "API_BUILD_VERSION"),
			CommitSHA: env.str("", "API_BUILD_COMMIT"),
		},
	}

	oidc := &cfg.Security.OIDC
	if len(oidc.Issuers) == 0 {
		oidc.Issuers = slices.Clone(defaultIssuers)
	}
	if oidc.Audience == "" {
		oidc.Audience = oidc.Audiences[cfg.Security.Environment]
	}
	return cfg
}

func (cfg Config) validate() error {
	var bad []string
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	port, err := strconv.Atoi(cfg.Server.Port)
	check(err == nil && port > 0 && port <= 65535, "Server.Port")
	check(slices.Contains(KnownDatabaseKinds, cfg.Database.Kind), "Database.Kind")
	check(strings.TrimSpace(cfg.Database.DSN) != "", "Database.DSN")
	for field, endpoint := range map[string]ProfileEndpoint{"Ingestion.Source": cfg.Ingestion.Source, "Ingestion.Target": cfg.Ingestion.Target} {
		// Either side may be left unconfigured; half a credential set is a mistake.
		n := endpoint.set()
		check(n == 0 || n == 3, field)
	}
	check(cfg.Ingestion.Timeout > 0, "Ingestion.Timeout")
	check(cfg.PubSub.ExportTopic == "" || cfg.PubSub.ProjectID != "", "PubSub.ProjectID")
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		slices.Sort(bad)
		return &ValidationError{fields: bad}
	}
	return nil
}
