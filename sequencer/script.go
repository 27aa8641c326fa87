package sequencer

import (
	"regexp"
	"strings"
	"sync"
)

// Script is an ordered, mutable list of command strings. Insertion order is
// execution order. Contents are never validated: blank or malformed lines are
// kept and sent verbatim.
//
// A Script is safe for concurrent use.
type Script struct {
	mu   sync.RWMutex
	cmds []string
}

// NewScript creates a script holding a copy of cmds.
func NewScript(cmds ...string) *Script {
	s := &Script{}
	s.ReplaceAll(cmds)

	return s
}

// Append adds cmd at the end.
func (s *Script) Append(cmd string) {
	s.mu.Lock()
	s.cmds = append(s.cmds, cmd)
	s.mu.Unlock()
}

// PopLast removes and returns the last command. ok is false on an empty script.
func (s *Script) PopLast() (cmd string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cmds) == 0 {
		return "", false
	}

	last := len(s.cmds) - 1
	cmd = s.cmds[last]
	s.cmds = s.cmds[:last]

	return cmd, true
}

// Clear removes every command.
func (s *Script) Clear() {
	s.mu.Lock()
	s.cmds = nil
	s.mu.Unlock()
}

// ReplaceAll replaces the contents with a copy of cmds.
func (s *Script) ReplaceAll(cmds []string) {
	cp := make([]string, len(cmds))
	copy(cp, cmds)

	s.mu.Lock()
	s.cmds = cp
	s.mu.Unlock()
}

// Commands returns a copy of the commands in order.
func (s *Script) Commands() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.cmds))
	copy(out, s.cmds)

	return out
}

// Len returns the number of commands.
func (s *Script) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.cmds)
}

var lineBreak = regexp.MustCompile(`\r?\n`)

// ParseScript splits the text form of a script into commands, one per line.
// Blank lines are kept; an empty text yields an empty script.
func ParseScript(text string) []string {
	if text == "" {
		return nil
	}

	return lineBreak.Split(text, -1)
}

// FormatScript joins commands into the text form read by ParseScript.
func FormatScript(cmds []string) string {
	return strings.Join(cmds, "\n")
}
