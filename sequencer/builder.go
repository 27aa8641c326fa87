package sequencer

import (
	"strings"

	"github.com/arloliu/go-runin/catalog"
)

// DefaultClearTarget is the target of a clear command without one.
const DefaultClearTarget = "all"

// Builder renders structured parameters into canonical runin command strings.
// Well-known base commands are resolved through the catalog, falling back to
// their literal defaults.
type Builder struct {
	catalog *catalog.Catalog
}

// NewBuilder creates a Builder. A nil catalog means the literal defaults.
func NewBuilder(cat *catalog.Catalog) *Builder {
	return &Builder{catalog: cat}
}

// Add returns "runin add -w <schedule> <command>". command is appended verbatim.
func (b *Builder) Add(schedule Schedule, command string) string {
	return "runin add -w " + string(schedule) + " " + command
}

// Clear returns "runin clear <target>"; an empty target means all.
func (b *Builder) Clear(target string) string {
	if target == "" {
		target = DefaultClearTarget
	}

	return "runin clear " + target
}

// Start returns "<start> -w <schedule>" followed by the flags of opts.
//
// Start does not validate opts; callers check StartOptions.Validate first.
func (b *Builder) Start(schedule Schedule, opts StartOptions) string {
	parts := []string{b.Command(catalog.IDStart), "-w", string(schedule)}
	parts = append(parts, opts.flags()...)

	return strings.Join(parts, " ")
}

// ValidStart validates schedule and opts and then builds the start command.
func (b *Builder) ValidStart(schedule Schedule, opts StartOptions) (string, error) {
	if _, err := ParseSchedule(string(schedule)); err != nil {
		return "", err
	}
	if err := opts.Validate(); err != nil {
		return "", err
	}

	return b.Start(schedule, opts), nil
}

// Command returns the wire text of a well-known catalog id such as
// catalog.IDStatus.
func (b *Builder) Command(id string) string {
	return b.catalog.Lookup(id, catalog.DefaultCommand(id))
}
