package access

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

type OracleFactory func(dsn string) (Oracle, error)

var oracleFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]OracleFactory
}{
	factories: map[string]OracleFactory{},
}

func RegisterOracleFactory(scheme string, factory OracleFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	oracleFactoryRegistry.mu.Lock()
	defer oracleFactoryRegistry.mu.Unlock()
	oracleFactoryRegistry.factories[scheme] = factory
}

func lookupOracleFactory(scheme string) (OracleFactory, bool) {
	scheme = normalizeScheme(scheme)
	oracleFactoryRegistry.mu.RLock()
	defer oracleFactoryRegistry.mu.RUnlock()
	factory, ok := oracleFactoryRegistry.factories[scheme]
	return factory, ok
}

// BuildOracleFromDSN selects an oracle backend:
//
//	memory://?default_role=editor   in-memory grants, optional default role
//	file:///etc/relaydoc/acl.json   JSON file, reloaded on change
//	postgres://...                  relaydoc_permissions table
func BuildOracleFromDSN(dsn string) (Oracle, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty acl dsn", ErrInvalidInput)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupOracleFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem", "inmem", "static":
		def, err := ParseRole(parsed.Query().Get("default_role"))
		if err != nil {
			return nil, err
		}
		return NewStaticOracle(def), nil
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileOracle(path)
	case "postgres", "postgresql":
		return NewPostgresOracle(dsn)
	case "ldap", "http", "https":
		return nil, fmt.Errorf("%w: acl backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported acl backend scheme: %s", scheme)
	}
}

// Close releases the resources held by oracle when it has any.
func Close(oracle Oracle) error {
	if closer, ok := oracle.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if host := strings.TrimSpace(parsed.Host); host != "" {
		path = host + path
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
