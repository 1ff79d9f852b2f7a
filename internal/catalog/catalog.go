// Package catalog maps component kinds to the published app packages the
// template installs, and derives their app IDs.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"daoforge/pkg/domain"
)

//go:embed apps.yaml
var defaultApps []byte

// App is one installable package.
type App struct {
	Kind    domain.ComponentKind `yaml:"kind"`
	Name    string               `yaml:"name"`
	Version string               `yaml:"version"`
	// Repo overrides the catalog-wide registry for this app.
	Repo string `yaml:"repo,omitempty"`
}

// ENSName returns "<name>.<repo>".
func (a App) ENSName(defaultRepo string) string {
	repo := a.Repo
	if repo == "" {
		repo = defaultRepo
	}
	return a.Name + "." + repo
}

// Catalog resolves component kinds to apps.
type Catalog struct {
	Repo string `yaml:"repo"`
	Apps []App  `yaml:"apps"`

	byKind map[domain.ComponentKind]App
}

var required = []domain.ComponentKind{
	domain.KindAgent,
	domain.KindFinance,
	domain.KindVoting,
	domain.KindTokenManager,
	domain.KindTokenWrapper,
	domain.KindVotingAggregator,
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultApps)
	if err != nil {
		panic("catalog: embedded apps.yaml is invalid: " + err.Error())
	}
	return c
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("catalog: payload is empty")
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads a catalog from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return c, nil
}

func (c *Catalog) index() error {
	c.Repo = strings.TrimSpace(c.Repo)
	if c.Repo == "" {
		return fmt.Errorf("catalog: repo is required")
	}
	c.byKind = make(map[domain.ComponentKind]App, len(c.Apps))
	for _, app := range c.Apps {
		if app.Name == "" {
			return fmt.Errorf("catalog: app of kind %q has no name", app.Kind)
		}
		if _, dup := c.byKind[app.Kind]; dup {
			return fmt.Errorf("catalog: kind %q listed twice", app.Kind)
		}
		c.byKind[app.Kind] = app
	}
	for _, kind := range required {
		if _, ok := c.byKind[kind]; !ok {
			return fmt.Errorf("catalog: missing app for kind %q", kind)
		}
	}
	return nil
}

// Lookup returns the app installed for kind.
func (c *Catalog) Lookup(kind domain.ComponentKind) (App, bool) {
	app, ok := c.byKind[kind]
	return app, ok
}

// AppID returns the namehash of the app's registry name. Kernel-level
// components have no app ID.
func (c *Catalog) AppID(kind domain.ComponentKind) string {
	app, ok := c.byKind[kind]
	if !ok {
		return ""
	}
	return domain.NameHashHex(app.ENSName(c.Repo))
}
