package projection

import (
	"database/sql"

	"github.com/nexusid/eventstore/pkg/logging"
	"github.com/nexusid/eventstore/pkg/runner"
)

// Registry builds one Runner per registered Handler, all sharing the
// same checkpoint database and event Source. Callers hand the
// resulting Runners to a runner.Runner for lifecycle supervision.
type Registry struct {
	db     *sql.DB
	source Source
	logger logging.Logger
	runner []*Runner
}

// NewRegistry constructs an empty Registry against db and source.
func NewRegistry(db *sql.DB, source Source, logger logging.Logger) *Registry {
	return &Registry{db: db, source: source, logger: logger}
}

// Register adds handler with cfg and returns the Runner driving it.
// Registering the same handler name twice is a caller error; the
// second Runner simply shares a checkpoint row with the first and
// their catch-up loops will race each other unless locking is enabled.
func (r *Registry) Register(handler Handler, cfg Config) *Runner {
	run := New(r.db, handler, r.source, cfg, r.logger)
	r.runner = append(r.runner, run)
	return run
}

// Runners returns every registered Runner in registration order. Use
// Services for the []runner.Service slice that runner.New takes.
func (r *Registry) Runners() []*Runner {
	out := make([]*Runner, len(r.runner))
	copy(out, r.runner)
	return out
}

// Services returns every registered Runner as a runner.Service, ready
// to pass to runner.New alongside any other long-running component.
func (r *Registry) Services() []runner.Service {
	out := make([]runner.Service, len(r.runner))
	for i, run := range r.runner {
		out[i] = run
	}
	return out
}

// Statuses reports the current health snapshot of every registered
// projection.
func (r *Registry) Statuses() []Status {
	out := make([]Status, len(r.runner))
	for i, run := range r.runner {
		out[i] = run.Status()
	}
	return out
}
