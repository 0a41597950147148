package tools

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Snapshot is a read-only view of the tools available for one turn.
type Snapshot struct {
	tools  []ToolDescriptor
	byName map[string]int
}

// NewSnapshot indexes descriptors by name. When a name is listed more than
// once, the first descriptor wins.
func NewSnapshot(descriptors []ToolDescriptor) *Snapshot {
	s := &Snapshot{
		byName: make(map[string]int, len(descriptors)),
	}
	for _, d := range descriptors {
		if d.Name == "" {
			log.Warn().Msg("tools: ignoring tool without a name")
			continue
		}
		if _, ok := s.byName[d.Name]; ok {
			log.Warn().Str("tool", d.Name).Msg("tools: duplicate tool name, keeping the first descriptor")
			continue
		}
		d.RequiredArguments = append([]string(nil), d.RequiredArguments...)
		s.byName[d.Name] = len(s.tools)
		s.tools = append(s.tools, d)
	}
	return s
}

// TakeSnapshot lists the tools of source once.
func TakeSnapshot(ctx context.Context, source ToolSource) (*Snapshot, error) {
	descriptors, err := source.ListTools(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not list tools")
	}
	return NewSnapshot(descriptors), nil
}

func (s *Snapshot) Lookup(name string) (ToolDescriptor, bool) {
	if s == nil {
		return ToolDescriptor{}, false
	}
	i, ok := s.byName[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	return s.tools[i], true
}

// Tools returns the descriptors in listing order.
func (s *Snapshot) Tools() []ToolDescriptor {
	if s == nil {
		return nil
	}
	return append([]ToolDescriptor(nil), s.tools...)
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tools)
}
