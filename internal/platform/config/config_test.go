package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "bz-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "bz-dev" || cfg.Notifications.ProjectID != "bz-dev" {
		t.Errorf("expected firestore and pubsub projects to default to firebase project, got %s/%s", cfg.Firestore.ProjectID, cfg.Notifications.ProjectID)
	}
	if cfg.Storage.Backend != BackendFirestore {
		t.Errorf("expected firestore backend by default, got %s", cfg.Storage.Backend)
	}
	if cfg.PSP.Timeout != defaultPSPTimeout {
		t.Errorf("unexpected psp timeout: %s", cfg.PSP.Timeout)
	}
	if cfg.Notifications.Topic != defaultNotificationsTopic {
		t.Errorf("unexpected notifications topic: %s", cfg.Notifications.Topic)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("unexpected log level: %s", cfg.Logging.Level)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url %s, got %s", defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != defaultIdempotencyInterval {
		t.Errorf("unexpected default cleanup interval: %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_READ_TIMEOUT":          "20s",
		"API_SERVER_WRITE_TIMEOUT":         "25s",
		"API_SERVER_IDLE_TIMEOUT":          "2m",
		"API_LOG_LEVEL":                    "DEBUG",
		"API_FIREBASE_PROJECT_ID":          "bz-prod",
		"API_STORAGE_BACKEND":              "postgres",
		"API_POSTGRES_DSN":                 "secret://postgres/dsn",
		"API_POSTGRES_MAX_CONNS":           "25",
		"API_STORAGE_RECEIPTS_BUCKET":      "receipts-prod",
		"API_PSP_STRIPE_API_KEY":           "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET":    "secret://stripe/webhook",
		"API_PSP_GATEWAY_KEY_ID":           "rzp_live_123",
		"API_PSP_GATEWAY_KEY_SECRET":       "secret://gateway/secret",
		"API_PSP_GATEWAY_WEBHOOK_SECRET":   "gateway-webhook",
		"API_PSP_TIMEOUT":                  "4s",
		"API_PLATFORM_DEFAULTS_FILE":       "/etc/bazaarly/platform.yaml",
		"API_NOTIFICATIONS_PROJECT_ID":     "bz-events",
		"API_NOTIFICATIONS_TOPIC":          "orders",
		"API_SECURITY_ENVIRONMENT":         "prod",
		"API_SECURITY_OIDC_AUDIENCES":      "prod=https://service.example.com,stg=https://stg.example.com",
		"API_SECURITY_OIDC_ISSUERS":        "https://accounts.google.com, https://cloud.google.com/iap",
		"API_SECURITY_OIDC_JWKS_URL":       "https://example.com/jwks.json",
		"API_SECURITY_OIDC_ALLOWED_EMAILS": "scheduler@bz-prod.iam.gserviceaccount.com",
		"API_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":              "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL": "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":    "500",
	}

	secrets := map[string]string{
		"secret://stripe/api":     "stripe-key",
		"secret://stripe/webhook": "stripe-webhook",
		"secret://gateway/secret": "gateway-secret",
		"secret://postgres/dsn":   "postgres://bazaarly@db/bazaarly",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected lower-cased log level, got %s", cfg.Logging.Level)
	}
	if cfg.PSP.StripeAPIKey != "stripe-key" || cfg.PSP.GatewayKeySecret != "gateway-secret" {
		t.Errorf("expected resolved psp secrets, got %+v", cfg.PSP)
	}
	if cfg.PSP.GatewayWebhookSecret != "gateway-webhook" || cfg.PSP.Timeout != 4*time.Second {
		t.Errorf("unexpected gateway settings %+v", cfg.PSP)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Postgres.DSN != "postgres://bazaarly@db/bazaarly" || cfg.Postgres.MaxConns != 25 {
		t.Errorf("unexpected postgres settings %+v %+v", cfg.Storage, cfg.Postgres)
	}
	if cfg.Storage.ReceiptsBucket != "receipts-prod" {
		t.Errorf("unexpected receipts bucket %s", cfg.Storage.ReceiptsBucket)
	}
	if cfg.Platform.DefaultsFile != "/etc/bazaarly/platform.yaml" {
		t.Errorf("unexpected defaults file %s", cfg.Platform.DefaultsFile)
	}
	if cfg.Notifications.ProjectID != "bz-events" || cfg.Notifications.Topic != "orders" {
		t.Errorf("unexpected notifications %+v", cfg.Notifications)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected security environment prod, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.Audience != "https://service.example.com" {
		t.Errorf("expected audience picked by environment, got %s", cfg.Security.OIDC.Audience)
	}
	if cfg.Security.OIDC.JWKSURL != "https://example.com/jwks.json" {
		t.Errorf("unexpected jwks url %s", cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.AllowedEmails) != 1 {
		t.Errorf("unexpected allowed emails %v", cfg.Security.OIDC.AllowedEmails)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute {
		t.Errorf("unexpected cleanup interval %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected cleanup batch size %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=\"bz-dot\"\nAPI_STORAGE_BACKEND=memory\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("expected memory backend from dotenv, got %s", cfg.Storage.Backend)
	}
	if cfg.Firebase.ProjectID != "bz-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "bz-dev",
		"API_PSP_STRIPE_API_KEY":  "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://stripe/api=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
	if got := values["API_SECRET_VERSION_PINS"]; got != "secret://stripe/api=5" {
		t.Fatalf("expected override version pin, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "bz-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeWebhookSecret"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("PSP.StripeWebhookSecret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "bz-dev",
	}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "PSP.StripeWebhookSecret" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeWebhookSecret"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":       "bz-dev",
		"API_PSP_STRIPE_WEBHOOK_SECRET": "sm://webhook/secret",
	}

	secrets := map[string]string{
		"secret://webhook/secret": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.PSP.StripeWebhookSecret != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.PSP.StripeWebhookSecret)
	}
}

func TestLoadValidatesBackendRequirements(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{name: "unknown backend", env: map[string]string{"API_STORAGE_BACKEND": "mongo"}, field: "Storage.Backend"},
		{name: "postgres without dsn", env: map[string]string{"API_STORAGE_BACKEND": "postgres"}, field: "Postgres.DSN"},
		{name: "half gateway credentials", env: map[string]string{"API_PSP_GATEWAY_KEY_ID": "rzp_test"}, field: "PSP.GatewayKeyID/GatewayKeySecret"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.env["API_FIREBASE_PROJECT_ID"] = "bz-dev"
			_, err := Load(context.Background(), WithEnvMap(tc.env), WithoutSystemEnv(), WithEnvFile(""))
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, field := range validation.Fields() {
				if field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %s in %v", tc.field, validation.Fields())
			}
		})
	}
}
