// Package projects loads the static project catalog from projects.json and
// synthesizes the reserved quick-session project.
package projects

import (
	"encoding/json"
	"fmt"
	"os"
)

// QuickSessionProjectID is the reserved sentinel project id rooted at the
// user's home directory.
const QuickSessionProjectID = "__quick__"

// Project is a named working directory plus optional matching hints.
type Project struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Keywords    []string `json:"keywords,omitempty"`
	TechStack   []string `json:"techStack,omitempty"`
	Description string   `json:"description,omitempty"`
}

type catalogFile struct {
	Projects []Project `json:"projects"`
}

// Catalog is the immutable set of projects loaded at Agent start.
type Catalog struct {
	byID             []Project
	idx              map[string]Project
	quickSessionHome string
}

// Load reads projects.json from path. A missing file yields an empty
// catalog rather than an error, matching the Agent's own best-effort
// posture toward optional on-disk configuration.
func Load(path string, quickSessionHome string) (*Catalog, error) {
	c := &Catalog{idx: make(map[string]Project), quickSessionHome: quickSessionHome}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var parsed catalogFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for _, p := range parsed.Projects {
		if p.ID == "" || p.Path == "" {
			continue
		}
		if p.ID == QuickSessionProjectID {
			continue // the sentinel is synthesized, never user-configured
		}
		c.byID = append(c.byID, p)
		c.idx[p.ID] = p
	}

	return c, nil
}

// List returns every configured project, in load order. The quick-session
// project is never included; callers that need it use Resolve with an
// empty or "__quick__" id.
func (c *Catalog) List() []Project {
	out := make([]Project, len(c.byID))
	copy(out, c.byID)
	return out
}

// Resolve looks up a project by id. An empty id or the quick-session
// sentinel resolves to the synthesized quick-session project.
func (c *Catalog) Resolve(id string) (Project, bool) {
	if id == "" || id == QuickSessionProjectID {
		return Project{
			ID:   QuickSessionProjectID,
			Name: "Quick session",
			Path: c.quickSessionHome,
		}, true
	}
	p, ok := c.idx[id]
	return p, ok
}
