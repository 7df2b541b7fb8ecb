package conf

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Component describes one component instance in the pipeline.
type Component struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Params map[string]string `yaml:"params"`
}

// Link connects an output endpoint to an input endpoint, both written as
// "component:index".
type Link struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Pipeline is the set of components and the links between their ports.
type Pipeline struct {
	Components []Component `yaml:"components"`
	Links      []Link      `yaml:"links"`

	// Buffer geometry floor applied to every output port after its
	// format commit; larger committed values are kept.
	BufferNum  int `yaml:"buffer_num"`
	BufferSize int `yaml:"buffer_size"`
}

var componentTypes = []string{"gen", "null", "copy", "bridgetx", "bridgerx", "pcapsrc"}

func (p *Pipeline) setDefaults() {
	cpus := sysCPUCount()
	if p.BufferNum == 0 {
		// A couple of buffers per core keeps the dataplane busy without
		// hoarding memory.
		p.BufferNum = clampInt(cpus*2, 3, 32)
	}
	if p.BufferSize == 0 {
		p.BufferSize = clampInt(cpus*8*1024, 16*1024, 1024*1024)
	}
}

func (p *Pipeline) validate() []error {
	var errs []error

	if len(p.Components) == 0 {
		errs = append(errs, fmt.Errorf("pipeline needs at least one component"))
	}

	seen := map[string]bool{}
	for _, c := range p.Components {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("every component needs a name"))
			continue
		}
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("duplicate component name %q", c.Name))
		}
		seen[c.Name] = true
		if !slices.Contains(componentTypes, c.Type) {
			errs = append(errs, fmt.Errorf("component %q: type must be one of: %v", c.Name, componentTypes))
		}
	}

	for _, l := range p.Links {
		for _, ep := range []string{l.From, l.To} {
			name, _, err := ParseEndpoint(ep)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !seen[name] {
				errs = append(errs, fmt.Errorf("link endpoint %q names an unknown component", ep))
			}
		}
	}

	if p.BufferNum < 1 || p.BufferNum > 256 {
		errs = append(errs, fmt.Errorf("buffer_num must be between 1 and 256"))
	}
	if p.BufferSize < 64 || p.BufferSize > 32*1024*1024 {
		errs = append(errs, fmt.Errorf("buffer_size must be between 64 bytes and 32MB"))
	}

	return errs
}

// ParseEndpoint splits a "component:index" endpoint.
func ParseEndpoint(s string) (name string, index int, err error) {
	name, idx, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return "", 0, fmt.Errorf("endpoint %q must have the form component:index", s)
	}
	index, err = strconv.Atoi(idx)
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("endpoint %q has an invalid port index", s)
	}
	return name, index, nil
}
