// Package selector holds the per-platform candidate lists for every logical
// control role and the single ordered-candidate resolution algorithm shared
// by all platforms. Adding a platform means adding catalog data.
package selector

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is a logical control on the destination surface.
type Role string

const (
	RoleInput    Role = "input"
	RoleSubmit   Role = "submit"
	RoleRendered Role = "rendered"
)

//go:embed defaults.yaml
var defaultCatalog []byte

// Platform is the catalog entry for one platform.
type Platform struct {
	DMURL            string   `yaml:"dm_url"`
	Input            []string `yaml:"input"`
	Submit           []string `yaml:"submit"`
	Rendered         []string `yaml:"rendered"`
	RateLimitMarkers []string `yaml:"rate_limit_markers"`
	RejectionMarkers []string `yaml:"rejection_markers"`
}

// Candidates returns the ordered candidate list for role.
func (p Platform) Candidates(role Role) []string {
	switch role {
	case RoleInput:
		return p.Input
	case RoleSubmit:
		return p.Submit
	case RoleRendered:
		return p.Rendered
	}
	return nil
}

// Catalog maps platform ids to their entries.
type Catalog struct {
	Platforms map[string]Platform `yaml:"platforms"`
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes a YAML catalog and validates it.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse selector catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads a catalog file and overlays it on the built-in defaults:
// platforms present in the file replace the default entry wholesale.
func Load(path string) (*Catalog, error) {
	base, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read selector catalog %s: %w", path, err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for name, p := range override.Platforms {
		base.Platforms[name] = p
	}
	return base, nil
}

func (c *Catalog) validate() error {
	if c.Platforms == nil {
		c.Platforms = map[string]Platform{}
	}
	for name, p := range c.Platforms {
		if len(p.Input) == 0 || len(p.Submit) == 0 {
			return fmt.Errorf("selector catalog: platform %q needs input and submit candidates", name)
		}
	}
	return nil
}

// Platform returns the entry for name.
func (c *Catalog) Platform(name string) (Platform, bool) {
	p, ok := c.Platforms[name]
	return p, ok
}

// DestinationURL resolves a target destination to a URL, expanding the
// dm_url template when destination is a handle.
// Destinations that are already URLs are returned unchanged.
func (p Platform) DestinationURL(destination string, directMessage bool) (string, error) {
	if strings.HasPrefix(destination, "http://") || strings.HasPrefix(destination, "https://") {
		return destination, nil
	}
	if !directMessage {
		return "", fmt.Errorf("comment destination %q is not a URL", destination)
	}
	if p.DMURL == "" {
		return "", fmt.Errorf("no dm_url template for handle %q", destination)
	}
	handle := url.PathEscape(strings.TrimPrefix(destination, "@"))
	return strings.ReplaceAll(p.DMURL, "{{handle}}", handle), nil
}
