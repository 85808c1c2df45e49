package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/agentworkforce/relaydoc/internal/access"
	"github.com/agentworkforce/relaydoc/internal/collab"
	"github.com/agentworkforce/relaydoc/internal/docstore"
	"github.com/agentworkforce/relaydoc/internal/httpapi"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if err := run(); err != nil {
		glog.Errorf("relaydoc: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}

func run() error {
	addr := envOrDefault("RELAYDOC_ADDR", ":8080")
	store, oracle, err := buildBackendsFromEnv()
	if err != nil {
		return fmt.Errorf("failed to initialize backends: %w", err)
	}
	defer func() {
		if err := docstore.Close(store); err != nil {
			glog.Warningf("relaydoc: close store: %v", err)
		}
		if err := access.Close(oracle); err != nil {
			glog.Warningf("relaydoc: close oracle: %v", err)
		}
	}()

	registry := collab.NewRegistry(collab.RegistryOptions{
		Store:         store,
		Oracle:        oracle,
		SaveQueueSize: intEnv("RELAYDOC_SAVE_QUEUE_SIZE", 0),
		SaveTimeout:   durationEnv("RELAYDOC_SAVE_TIMEOUT", 0),
	})
	server := httpapi.NewServerWithConfig(registry, httpapi.ServerConfig{
		JWTSecret:       os.Getenv("RELAYDOC_JWT_SECRET"),
		JWTAudience:     os.Getenv("RELAYDOC_JWT_AUDIENCE"),
		RateLimitMax:    intEnv("RELAYDOC_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("RELAYDOC_RATE_LIMIT_WINDOW", time.Minute),
		MaxMessageBytes: int64Env("RELAYDOC_MAX_MESSAGE_BYTES", 0),
		SendBuffer:      intEnv("RELAYDOC_SEND_BUFFER", 0),
		WriteTimeout:    durationEnv("RELAYDOC_WRITE_TIMEOUT", 0),
		JoinTimeout:     durationEnv("RELAYDOC_JOIN_TIMEOUT", 0),
		AllowedOrigins:  listEnv("RELAYDOC_ALLOWED_ORIGINS"),
	})
	if os.Getenv("RELAYDOC_JWT_SECRET") == "" {
		glog.Warningf("relaydoc: RELAYDOC_JWT_SECRET is unset, using the development secret")
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		glog.Infof("relaydoc listening on %s", addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	glog.Infof("relaydoc: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), durationEnv("RELAYDOC_SHUTDOWN_TIMEOUT", 15*time.Second))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		glog.Warningf("relaydoc: http shutdown: %v", err)
	}
	// Upgraded connections are not tracked by Shutdown.
	server.Close()
	if err := registry.Close(shutdownCtx); err != nil {
		glog.Warningf("relaydoc: pending saves not drained: %v", err)
	}
	return nil
}

func buildBackendsFromEnv() (docstore.Store, access.Oracle, error) {
	profileStoreDSN, profileACLDSN, err := storageProfileDefaultsFromEnv()
	if err != nil {
		return nil, nil, err
	}
	storeDSN := envOrDefault("RELAYDOC_STORE_DSN", profileStoreDSN)
	aclDSN := envOrDefault("RELAYDOC_ACL_DSN", profileACLDSN)
	if storeDSN == "" {
		storeDSN = "memory://"
	}
	if aclDSN == "" {
		aclDSN = "memory://"
	}

	store, err := docstore.BuildStoreFromDSN(storeDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("document store: %w", err)
	}
	oracle, err := access.BuildOracleFromDSN(aclDSN)
	if err != nil {
		_ = docstore.Close(store)
		return nil, nil, fmt.Errorf("permission oracle: %w", err)
	}
	glog.Infof("relaydoc: store=%s acl=%s", redactDSN(storeDSN), redactDSN(aclDSN))
	return store, oracle, nil
}

func storageProfileDefaultsFromEnv() (storeDSN, aclDSN string, err error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("RELAYDOC_BACKEND_PROFILE")))
	dataDir := envOrDefault("RELAYDOC_DATA_DIR", ".relaydoc")
	switch profile {
	case "", "custom":
		return "", "", nil
	case "memory", "inmemory":
		// Everyone may edit; only useful for local development.
		return "memory://", "memory://?default_role=editor", nil
	case "durable-local", "local-durable":
		return "bolt://" + filepath.Join(dataDir, "documents.db"),
			"file://" + filepath.Join(dataDir, "acl.json"),
			nil
	case "production", "prod":
		productionDSN := strings.TrimSpace(os.Getenv("RELAYDOC_PRODUCTION_DSN"))
		if productionDSN == "" {
			return "", "", fmt.Errorf("RELAYDOC_PRODUCTION_DSN is required when RELAYDOC_BACKEND_PROFILE=%s", profile)
		}
		return productionDSN, productionDSN, nil
	default:
		return "", "", fmt.Errorf("unsupported RELAYDOC_BACKEND_PROFILE: %s", profile)
	}
}

// redactDSN hides credentials before a DSN is logged.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***" + rest[at:]
	}
	return scheme + "://" + rest
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func listEnv(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		glog.Warningf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		glog.Warningf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		glog.Warningf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
