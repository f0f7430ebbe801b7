package app

import "context"

// Component is a lifecycle-managed unit registered under a unique name in
// an Application (spec.md §3, §4.4). prepare always precedes start; stop
// always precedes (or replaces, if start was never reached) teardown;
// health may be invoked any time after start.
type Component interface {
	Prepare(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) error
}

// HealthComponent is embedded by components with nothing interesting to
// report: it satisfies the Health method of Component with an always-
// healthy default, matching the teacher's habit of embeddable no-op
// interface satisfiers.
type HealthComponent struct{}

func (HealthComponent) Health(context.Context) error { return nil }

// Named lets a component report a display name distinct from its registry
// key (spec.md §3 "optional display name"). Components that don't
// implement it are displayed by their registry key.
type Named interface {
	DisplayName() string
}
