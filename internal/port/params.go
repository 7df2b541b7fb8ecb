package port

import (
	"errors"

	"mport/internal/flog"
	"mport/internal/status"
)

// Parameter ids. Components define their own above ParamUserBase; the
// block below it belongs to the core.
const (
	ParamCoreStatistics uint32 = iota + 1
	ParamUserBase       uint32 = 0x1000
)

// Parameter is a typed parameter header: an id naming the parameter and a
// payload whose concrete type the id implies.
type Parameter struct {
	ID   uint32
	Data any
}

// CoreStatsParam is the payload for ParamCoreStatistics: pick a
// direction, optionally reset the source after reading.
type CoreStatsParam struct {
	Dir   StatsDir
	Reset bool
	Stats CoreStats
}

// ParameterSet sets a parameter on the port, trying the component hook
// first and the core's own parameters second.
func (p *Port) ParameterSet(param *Parameter) error {
	if p == nil {
		flog.Errorf("no port")
		return status.ErrInvalid
	}
	if param == nil {
		flog.Errorf("param not supplied")
		return status.ErrInvalid
	}

	flog.Tracef("%s: set parameter %#x", p.name, param.ID)

	p.mu.Lock()
	defer p.mu.Unlock()

	err := status.ErrNotImplemented
	if p.Hooks.ParameterSet != nil {
		err = p.Hooks.ParameterSet(p, param)
	}
	if errors.Is(err, status.ErrNotImplemented) {
		err = p.privateParameterSet(param)
	}
	return err
}

// ParameterGet reads a parameter from the port, trying the component hook
// first and the core's own parameters second.
func (p *Port) ParameterGet(param *Parameter) error {
	if p == nil {
		return status.ErrInvalid
	}
	if param == nil {
		return status.ErrInvalid
	}

	flog.Tracef("%s: get parameter %#x", p.name, param.ID)

	p.mu.Lock()
	defer p.mu.Unlock()

	err := status.ErrNotImplemented
	if p.Hooks.ParameterGet != nil {
		err = p.Hooks.ParameterGet(p, param)
	}
	if errors.Is(err, status.ErrNotImplemented) {
		err = p.privateParameterGet(param)
	}
	return err
}

func (p *Port) privateParameterGet(param *Parameter) error {
	switch param.ID {
	case ParamCoreStatistics:
		return p.coreStatsGet(param)
	default:
		return status.ErrNotImplemented
	}
}

func (p *Port) privateParameterSet(param *Parameter) error {
	switch param.ID {
	default:
		return status.ErrNotImplemented
	}
}

func (p *Port) coreStatsGet(param *Parameter) error {
	sp, ok := param.Data.(*CoreStatsParam)
	if !ok {
		return status.ErrInvalid
	}

	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	src := &p.stats.tx
	if sp.Dir == StatsRx {
		src = &p.stats.rx
	}
	sp.Stats = *src
	if sp.Reset {
		*src = CoreStats{}
	}
	return nil
}
