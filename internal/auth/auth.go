package auth

import (
	"errors"
	"fmt"
)

// DefaultApp is the application namespace accepted when none is configured.
const DefaultApp = "kyu"

// ErrForbiddenApp is returned for publish requests outside the served namespace.
var ErrForbiddenApp = errors.New("application not served")

// Manager handles authorization of publish and play requests. The server
// serves exactly one application namespace.
type Manager struct {
	app string
}

// New creates a policy for app; an empty app selects DefaultApp.
func New(app string) *Manager {
	if app == "" {
		app = DefaultApp
	}
	return &Manager{app: app}
}

// App returns the served application namespace.
func (m *Manager) App() string { return m.app }

// AuthorizePublish checks that app is the served namespace. Comparison is
// case-sensitive.
func (m *Manager) AuthorizePublish(app string) error {
	if app != m.app {
		return fmt.Errorf("%w: %q", ErrForbiddenApp, app)
	}
	return nil
}

// PlayApp resolves the namespace a play request looks streams up in: the
// connection's app when it has one, the served namespace otherwise.
func (m *Manager) PlayApp(connApp string) string {
	if connApp == "" {
		return m.app
	}
	return connApp
}
