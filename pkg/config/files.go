package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/patmonardo/new-organon-sub002/pkg/gdslink"
	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
)

// Fixtures are canned kernel outputs plus the catalog an in-memory kernel
// starts with.
type Fixtures struct {
	Outputs map[string]any       `yaml:"outputs" json:"outputs"`
	Graphs  []gdslink.GraphEntry `yaml:"graphs,omitempty" json:"graphs,omitempty"`
}

// ModelIDs returns the ids with a canned output, sorted.
func (f *Fixtures) ModelIDs() []string {
	ids := make([]string, 0, len(f.Outputs))
	for id := range f.Outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadFixtures reads a fixtures YAML file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load fixtures %q: %w", path, err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures %q: %w", path, err)
	}
	if f.Outputs == nil {
		f.Outputs = map[string]any{}
	}
	for id := range f.Outputs {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("fixtures %q: empty model id", path)
		}
	}
	for i, g := range f.Graphs {
		if g.Name == "" {
			return nil, fmt.Errorf("fixtures %q: graphs[%d] has no name", path, i)
		}
	}
	return &f, nil
}

// Route targets understood by BuildRouter.
const (
	TargetDemo = "demo"
	TargetWire = "wire"
)

// RouteSpec is one router entry as written in a routes file.
type RouteSpec struct {
	Prefix     string `yaml:"prefix" json:"prefix"`
	Constraint string `yaml:"constraint,omitempty" json:"constraint,omitempty"`
	Target     string `yaml:"target" json:"target"`
}

// LoadRoutes reads a routes YAML file. Order is preserved; the router
// tries routes first to last.
func LoadRoutes(path string) ([]RouteSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load routes %q: %w", path, err)
	}
	var doc struct {
		Routes []RouteSpec `yaml:"routes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse routes %q: %w", path, err)
	}
	for i, r := range doc.Routes {
		if r.Prefix == "" {
			return nil, fmt.Errorf("routes %q: routes[%d] has no prefix", path, i)
		}
		if r.Target == "" {
			return nil, fmt.Errorf("routes %q: routes[%d] has no target", path, i)
		}
	}
	return doc.Routes, nil
}

// BuildRouter wires specs to the named target ports.
func BuildRouter(specs []RouteSpec, targets map[string]kernel.Port) (*kernel.Router, error) {
	router := kernel.NewRouter()
	for _, spec := range specs {
		port, ok := targets[spec.Target]
		if !ok {
			return nil, fmt.Errorf("route %q: unknown target %q", spec.Prefix, spec.Target)
		}
		if spec.Constraint == "" {
			router.Handle(spec.Prefix, port)
			continue
		}
		if err := router.HandleVersion(spec.Prefix, spec.Constraint, port); err != nil {
			return nil, err
		}
	}
	return router, nil
}
