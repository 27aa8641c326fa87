// Package catalog holds the table of command templates known to the runin
// agent and resolves well-known operations to their wire text.
//
// A Catalog is immutable once created and safe for concurrent use. Lookups
// that miss fall back to a caller-supplied default, so an empty catalog is a
// valid catalog.
package catalog

import "strings"

// Categories used by the bundled catalog for grouping.
const (
	CategoryScript  = "script"
	CategoryMonitor = "monitor"
)

// Well-known template ids.
const (
	IDStart    = "start"
	IDStop     = "stop"
	IDStatus   = "status"
	IDLog      = "log"
	IDState    = "state"
	IDProgress = "progress"
	IDHelp     = "help"
	IDClear    = "clear"
)

var defaultCommands = map[string]string{
	IDStart:    "runin start",
	IDStop:     "runin stop",
	IDStatus:   "runin status",
	IDLog:      "runin log",
	IDState:    "runin state",
	IDProgress: "runin progress",
	IDHelp:     "runin help",
	IDClear:    "runin clear all",
}

// DefaultCommand returns the literal wire text of a well-known id, or "" for
// an unknown id.
func DefaultCommand(id string) string {
	return defaultCommands[id]
}

// CommandTemplate is one catalog entry.
type CommandTemplate struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Command  string `json:"command" yaml:"command"`
	Args     string `json:"args,omitempty" yaml:"args,omitempty"`
	Help     string `json:"help,omitempty" yaml:"help,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Expand renders the command followed by its default arguments.
func (t CommandTemplate) Expand() string {
	if t.Args == "" {
		return t.Command
	}

	return t.Command + " " + t.Args
}

// Catalog is a read-only set of command templates.
type Catalog struct {
	templates []CommandTemplate
	byID      map[string]int
}

// New creates a catalog from templates, in the given order.
// For duplicated ids the first template wins.
func New(templates []CommandTemplate) *Catalog {
	c := &Catalog{
		templates: make([]CommandTemplate, len(templates)),
		byID:      make(map[string]int, len(templates)),
	}
	copy(c.templates, templates)

	for i, t := range c.templates {
		if t.ID == "" {
			continue
		}
		if _, ok := c.byID[t.ID]; !ok {
			c.byID[t.ID] = i
		}
	}

	return c
}

// Empty returns a catalog without templates.
func Empty() *Catalog {
	return New(nil)
}

// Len returns the number of templates.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}

	return len(c.templates)
}

// Lookup returns the command text mapped to id, or fallback when the catalog
// lacks id or maps it to an empty command. A nil catalog behaves as empty.
func (c *Catalog) Lookup(id, fallback string) string {
	if t, ok := c.Get(id); ok && t.Command != "" {
		return t.Command
	}

	return fallback
}

// Get returns the template with the given id.
func (c *Catalog) Get(id string) (CommandTemplate, bool) {
	if c == nil || id == "" {
		return CommandTemplate{}, false
	}

	i, ok := c.byID[id]
	if !ok {
		return CommandTemplate{}, false
	}

	return c.templates[i], true
}

// All returns a copy of every template in catalog order.
func (c *Catalog) All() []CommandTemplate {
	if c == nil {
		return nil
	}

	out := make([]CommandTemplate, len(c.templates))
	copy(out, c.templates)

	return out
}

// ByCategory returns the templates tagged with category, in catalog order.
func (c *Catalog) ByCategory(category string) []CommandTemplate {
	if c == nil {
		return nil
	}

	var out []CommandTemplate
	for _, t := range c.templates {
		if t.Category == category {
			out = append(out, t)
		}
	}

	return out
}

// Categories returns the distinct categories in order of first appearance.
func (c *Catalog) Categories() []string {
	if c == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, t := range c.templates {
		if _, ok := seen[t.Category]; ok {
			continue
		}
		seen[t.Category] = struct{}{}
		out = append(out, t.Category)
	}

	return out
}

// FindByCommand returns the first template whose command matches text,
// ignoring surrounding whitespace.
func (c *Catalog) FindByCommand(text string) (CommandTemplate, bool) {
	if c == nil {
		return CommandTemplate{}, false
	}

	text = strings.TrimSpace(text)
	for _, t := range c.templates {
		if t.Command == text {
			return t, true
		}
	}

	return CommandTemplate{}, false
}
