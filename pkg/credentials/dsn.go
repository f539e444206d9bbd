// Package credentials resolves the Storage Adapter's DSN from a
// pluggable backend instead of a literal string, so a deployment can
// point at AWS Secrets Manager, GCP Runtime Configurator, etcd, or a
// local file without the engine knowing which. Grounded on the
// teacher's pkg/security/credentials (gocloud.dev-backed secret
// resolution with caching and auto-refresh), narrowed from the
// teacher's general NATS Credentials struct (tokens, NKeys, JWTs,
// mTLS material) to the one value this engine actually needs: a
// connection string. gocloud.dev/runtimevar, not gocloud.dev/secrets,
// is the right building block here since a DSN is a watched
// configuration value, not something that needs decrypting.
package credentials

import (
	"context"
	"fmt"
	"sync"

	"gocloud.dev/runtimevar"
	// Backend drivers are opt-in; application code imports the ones it
	// needs, e.g.:
	//   _ "gocloud.dev/runtimevar/constantvar"
	//   _ "gocloud.dev/runtimevar/filevar"
	//   _ "gocloud.dev/runtimevar/awsparamstore"
)

// Resolver produces a storage DSN on demand. *VariableResolver is the
// production implementation; tests can use StaticResolver.
type Resolver interface {
	DSN(ctx context.Context) (string, error)
	Close() error
}

// VariableResolver wraps a gocloud.dev/runtimevar.Variable, decoding
// its watched value as a UTF-8 DSN string on every call.
type VariableResolver struct {
	variable *runtimevar.Variable

	mu     sync.RWMutex
	cached string
}

// OpenVariableResolver opens url through runtimevar's default decoder
// registry (e.g. "constant://?val=...", "file:///etc/eventstore/dsn",
// "awsparamstore://my-param").
func OpenVariableResolver(ctx context.Context, url string) (*VariableResolver, error) {
	v, err := runtimevar.OpenVariable(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open dsn variable %s: %w", url, err)
	}
	r := &VariableResolver{variable: v}
	if _, err := r.DSN(ctx); err != nil {
		v.Close()
		return nil, err
	}
	return r, nil
}

// DSN returns the latest watched value. runtimevar.Variable.Latest
// blocks only until the first value is available or ctx is canceled;
// subsequent calls return immediately with the last-known-good value
// if the backend is unreachable, matching the teacher's
// cache-survives-backend-outage behavior.
func (r *VariableResolver) DSN(ctx context.Context) (string, error) {
	snapshot, err := r.variable.Latest(ctx)
	if err != nil {
		r.mu.RLock()
		cached := r.cached
		r.mu.RUnlock()
		if cached != "" {
			return cached, nil
		}
		return "", fmt.Errorf("resolve dsn: %w", err)
	}
	value, ok := snapshot.Value.(string)
	if !ok {
		return "", fmt.Errorf("dsn variable decoded as %T, want string", snapshot.Value)
	}
	r.mu.Lock()
	r.cached = value
	r.mu.Unlock()
	return value, nil
}

// Close releases the underlying watch.
func (r *VariableResolver) Close() error {
	return r.variable.Close()
}

// StaticResolver always returns the same DSN. Used by tests and by
// deployments that genuinely want a literal connection string.
type StaticResolver string

// DSN returns the static value unconditionally.
func (s StaticResolver) DSN(context.Context) (string, error) { return string(s), nil }

// Close is a no-op: there is no backend watch to release.
func (s StaticResolver) Close() error { return nil }
