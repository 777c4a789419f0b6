package permission

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var defaultRoutes []byte

// Route is one guarded console section.
type Route struct {
	Path        string      `yaml:"path"`
	Title       string      `yaml:"title"`
	Requirement Requirement `yaml:",inline"`
	// Backend is the collaborator endpoint the section reads its data from.
	Backend string `yaml:"backend,omitempty"`
}

// RouteTable maps console paths to the permission they require.
type RouteTable struct {
	Routes []Route `yaml:"routes"`
}

// LoadRouteTable reads a YAML route manifest. An empty path loads the built-in one.
func LoadRouteTable(path string) (*RouteTable, error) {
	data := defaultRoutes
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.Wrap(err, "reading route table")
		}
	}
	return ParseRouteTable(data)
}

func ParseRouteTable(data []byte) (*RouteTable, error) {
	var table RouteTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, errors.Wrap(err, "parsing route table")
	}
	seen := make(map[string]bool, len(table.Routes))
	for i, route := range table.Routes {
		if !strings.HasPrefix(route.Path, "/") {
			return nil, errors.Errorf("route %d: path %q must start with /", i, route.Path)
		}
		if seen[route.Path] {
			return nil, errors.Errorf("route %d: duplicate path %q", i, route.Path)
		}
		seen[route.Path] = true
		switch route.Requirement.Mode {
		case "", ModeAny, ModeAll:
		default:
			return nil, errors.Errorf("route %s: unknown mode %q", route.Path, route.Requirement.Mode)
		}
	}
	sort.SliceStable(table.Routes, func(i, j int) bool { return table.Routes[i].Path < table.Routes[j].Path })
	return &table, nil
}

// Lookup returns the route registered for path.
func (t *RouteTable) Lookup(path string) (Route, bool) {
	for _, route := range t.Routes {
		if route.Path == path {
			return route, true
		}
	}
	return Route{}, false
}

// Allowed returns the routes perms may open, in path order.
func (t *RouteTable) Allowed(perms Checker) []Route {
	routes := make([]Route, 0, len(t.Routes))
	for _, route := range t.Routes {
		if Evaluate(route.Requirement, perms) {
			routes = append(routes, route)
		}
	}
	return routes
}
