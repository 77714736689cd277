package kernel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Route binds a model id prefix, and optionally a version constraint, to a
// port. Prefix "gds." matches every GDS wire call; an exact id matches only
// itself.
type Route struct {
	Prefix     string
	Constraint string
	Port       Port

	constraint *semver.Constraints
}

// Router dispatches each request to the first matching route, in the order
// routes were added. No match is an UNKNOWN_MODEL failure.
type Router struct {
	mu     sync.RWMutex
	routes []Route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Handle adds a route without a version constraint.
func (r *Router) Handle(prefix string, port Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, Route{Prefix: prefix, Port: port})
}

// HandleVersion adds a route that only matches requests whose model.version
// satisfies constraint (e.g. "^1.2", ">= 2, < 3").
func (r *Router) HandleVersion(prefix, constraint string, port Port) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("route %q: invalid version constraint %q: %w", prefix, constraint, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, Route{Prefix: prefix, Constraint: constraint, Port: port, constraint: c})
	return nil
}

// Run dispatches req to the matching port.
func (r *Router) Run(ctx context.Context, req RunRequest) RunResult {
	route, ok, err := r.match(req.Model)
	if err != nil {
		return FailWith(CodeInvalidRequest, err)
	}
	if !ok {
		if req.Model.Version != "" {
			return Fail(CodeUnknownModel, "no route for model %q version %q", req.Model.ID, req.Model.Version)
		}
		return Fail(CodeUnknownModel, "no route for model %q", req.Model.ID)
	}
	return route.Port.Run(ctx, req)
}

func (r *Router) match(model ModelRef) (Route, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var version *semver.Version
	for _, route := range r.routes {
		if !strings.HasPrefix(model.ID, route.Prefix) {
			continue
		}
		if route.constraint == nil {
			return route, true, nil
		}
		if model.Version == "" {
			continue
		}
		if version == nil {
			v, err := semver.NewVersion(model.Version)
			if err != nil {
				return Route{}, false, fmt.Errorf("model %q: invalid version %q: %w", model.ID, model.Version, err)
			}
			version = v
		}
		if route.constraint.Check(version) {
			return route, true, nil
		}
	}
	return Route{}, false, nil
}
