package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/relaydoc/internal/access"
	"github.com/agentworkforce/relaydoc/internal/docstore"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("RELAYDOC_TEST_INT", "42")
	got := intEnv("RELAYDOC_TEST_INT", 7)
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("RELAYDOC_TEST_INT_BAD", "not-a-number")
	got := intEnv("RELAYDOC_TEST_INT_BAD", 7)
	if got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestInt64EnvParsesValue(t *testing.T) {
	t.Setenv("RELAYDOC_TEST_INT64", "2097152")
	if got := int64Env("RELAYDOC_TEST_INT64", 1); got != 2097152 {
		t.Fatalf("expected 2097152, got %d", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("RELAYDOC_TEST_DURATION", "150ms")
	got := durationEnv("RELAYDOC_TEST_DURATION", time.Second)
	if got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("RELAYDOC_TEST_DURATION_BAD", "soon")
	got := durationEnv("RELAYDOC_TEST_DURATION_BAD", 2*time.Second)
	if got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s", got)
	}
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("RELAYDOC_TEST_INT_UNSET")
	_ = os.Unsetenv("RELAYDOC_TEST_DURATION_UNSET")
	_ = os.Unsetenv("RELAYDOC_TEST_STRING_UNSET")

	if got := intEnv("RELAYDOC_TEST_INT_UNSET", 9); got != 9 {
		t.Fatalf("expected fallback 9, got %d", got)
	}
	if got := durationEnv("RELAYDOC_TEST_DURATION_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback 3s, got %s", got)
	}
	if got := envOrDefault("RELAYDOC_TEST_STRING_UNSET", ":9090"); got != ":9090" {
		t.Fatalf("expected fallback :9090, got %q", got)
	}
}

func TestListEnvSplitsAndTrims(t *testing.T) {
	t.Setenv("RELAYDOC_TEST_LIST", " a.example.com, ,b.example.com ")
	got := listEnv("RELAYDOC_TEST_LIST")
	if len(got) != 2 || got[0] != "a.example.com" || got[1] != "b.example.com" {
		t.Fatalf("unexpected list: %#v", got)
	}
}

func TestStorageProfileDefaults(t *testing.T) {
	t.Setenv("RELAYDOC_BACKEND_PROFILE", "memory")
	storeDSN, aclDSN, err := storageProfileDefaultsFromEnv()
	if err != nil {
		t.Fatalf("memory profile: %v", err)
	}
	if storeDSN != "memory://" || aclDSN != "memory://?default_role=editor" {
		t.Fatalf("unexpected memory profile dsns: %q %q", storeDSN, aclDSN)
	}

	dataDir := t.TempDir()
	t.Setenv("RELAYDOC_BACKEND_PROFILE", "durable-local")
	t.Setenv("RELAYDOC_DATA_DIR", dataDir)
	storeDSN, aclDSN, err = storageProfileDefaultsFromEnv()
	if err != nil {
		t.Fatalf("durable-local profile: %v", err)
	}
	if storeDSN != "bolt://"+filepath.Join(dataDir, "documents.db") {
		t.Fatalf("unexpected durable-local store dsn: %q", storeDSN)
	}
	if aclDSN != "file://"+filepath.Join(dataDir, "acl.json") {
		t.Fatalf("unexpected durable-local acl dsn: %q", aclDSN)
	}

	t.Setenv("RELAYDOC_BACKEND_PROFILE", "production")
	t.Setenv("RELAYDOC_PRODUCTION_DSN", "")
	if _, _, err := storageProfileDefaultsFromEnv(); err == nil {
		t.Fatalf("expected production profile without dsn to fail")
	}

	t.Setenv("RELAYDOC_BACKEND_PROFILE", "cloud-magic")
	if _, _, err := storageProfileDefaultsFromEnv(); err == nil {
		t.Fatalf("expected unknown profile to fail")
	}
}

func TestBuildBackendsFromEnvDurableLocal(t *testing.T) {
	t.Setenv("RELAYDOC_BACKEND_PROFILE", "durable-local")
	t.Setenv("RELAYDOC_DATA_DIR", t.TempDir())
	t.Setenv("RELAYDOC_STORE_DSN", "")
	t.Setenv("RELAYDOC_ACL_DSN", "")

	store, oracle, err := buildBackendsFromEnv()
	if err != nil {
		t.Fatalf("build backends: %v", err)
	}
	defer func() {
		_ = docstore.Close(store)
		_ = access.Close(oracle)
	}()
	if _, ok := store.(*docstore.BoltStore); !ok {
		t.Fatalf("expected bolt store, got %T", store)
	}
	if _, ok := oracle.(*access.FileOracle); !ok {
		t.Fatalf("expected file oracle, got %T", oracle)
	}
}

func TestBuildBackendsExplicitDSNOverridesProfile(t *testing.T) {
	t.Setenv("RELAYDOC_BACKEND_PROFILE", "durable-local")
	t.Setenv("RELAYDOC_DATA_DIR", t.TempDir())
	t.Setenv("RELAYDOC_STORE_DSN", "memory://")
	t.Setenv("RELAYDOC_ACL_DSN", "memory://?default_role=viewer")

	store, oracle, err := buildBackendsFromEnv()
	if err != nil {
		t.Fatalf("build backends: %v", err)
	}
	if _, ok := store.(*docstore.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	if _, ok := oracle.(*access.StaticOracle); !ok {
		t.Fatalf("expected static oracle, got %T", oracle)
	}
}

func TestRedactDSN(t *testing.T) {
	got := redactDSN("postgres://user:secret@db:5432/relaydoc?sslmode=disable")
	if strings.Contains(got, "secret") {
		t.Fatalf("expected credentials to be redacted, got %q", got)
	}
	if got != "postgres://***@db:5432/relaydoc?sslmode=disable" {
		t.Fatalf("unexpected redaction: %q", got)
	}
	if got := redactDSN("memory://"); got != "memory://" {
		t.Fatalf("expected dsn without credentials unchanged, got %q", got)
	}
}
