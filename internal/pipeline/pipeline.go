// Package pipeline builds and runs the component graph described by a
// configuration: it instantiates components, commits formats, connects
// the linked ports and feeds the unlinked ones as a regular API client.
package pipeline

import (
	"fmt"
	"time"

	"mport/internal/bufpool"
	"mport/internal/comp/bridge"
	"mport/internal/comp/copy"
	"mport/internal/comp/gen"
	"mport/internal/comp/null"
	"mport/internal/comp/pcapsrc"
	"mport/internal/conf"
	"mport/internal/flog"
	"mport/internal/port"
)

// node is one built component: its ports and its teardown.
type node struct {
	name    string
	inputs  []*port.Port
	outputs []*port.Port
	close   func()
}

// feeder keeps an unlinked output port supplied with buffers the way an
// API client would: a dedicated pool whose release callback recycles
// every returned buffer straight back into the port.
type feeder struct {
	p    *port.Port
	pool *bufpool.Pool
	eos  chan struct{}
}

// Pipeline is a built, not yet running, component graph.
type Pipeline struct {
	cfg     *conf.Conf
	nodes   map[string]*node
	order   []string
	feeders []*feeder
}

// Build instantiates every component in the configuration.
func Build(cfg *conf.Conf) (*Pipeline, error) {
	pl := &Pipeline{cfg: cfg, nodes: map[string]*node{}}

	for _, cc := range cfg.Pipeline.Components {
		n, err := build(cc, cfg.Bridge)
		if err != nil {
			pl.Close()
			return nil, fmt.Errorf("failed to build component %q: %w", cc.Name, err)
		}
		pl.nodes[cc.Name] = n
		pl.order = append(pl.order, cc.Name)
	}
	return pl, nil
}

func build(cc conf.Component, bcfg *conf.Bridge) (*node, error) {
	switch cc.Type {
	case "gen":
		g, err := gen.FromParams(cc.Name, cc.Params)
		if err != nil {
			return nil, err
		}
		return &node{name: cc.Name, outputs: g.C.Output, close: g.Close}, nil
	case "null":
		s, err := null.FromParams(cc.Name, cc.Params)
		if err != nil {
			return nil, err
		}
		return &node{name: cc.Name, inputs: s.C.Input, close: s.Close}, nil
	case "copy":
		cp, err := copy.FromParams(cc.Name, cc.Params)
		if err != nil {
			return nil, err
		}
		return &node{name: cc.Name, inputs: cp.C.Input, outputs: cp.C.Output, close: cp.Close}, nil
	case "bridgetx":
		tx, err := bridge.NewTX(cc.Name, bcfg)
		if err != nil {
			return nil, err
		}
		return &node{name: cc.Name, inputs: tx.C.Input, close: tx.Close}, nil
	case "bridgerx":
		rx, err := bridge.NewRX(cc.Name, bcfg)
		if err != nil {
			return nil, err
		}
		return &node{name: cc.Name, outputs: rx.C.Output, close: rx.Close}, nil
	case "pcapsrc":
		ps, err := pcapsrc.FromParams(cc.Name, cc.Params)
		if err != nil {
			return nil, err
		}
		return &node{name: cc.Name, outputs: ps.C.Output, close: ps.Close}, nil
	default:
		return nil, fmt.Errorf("unknown component type %q", cc.Type)
	}
}

func (pl *Pipeline) endpoint(ep string, output bool) (*port.Port, error) {
	name, idx, err := conf.ParseEndpoint(ep)
	if err != nil {
		return nil, err
	}
	n, ok := pl.nodes[name]
	if !ok {
		return nil, fmt.Errorf("unknown component %q", name)
	}
	ports := n.inputs
	if output {
		ports = n.outputs
	}
	if idx >= len(ports) {
		return nil, fmt.Errorf("component %q has no port %d", name, idx)
	}
	return ports[idx], nil
}

// Start commits formats, connects the links and enables the graph.
func (pl *Pipeline) Start() error {
	geom := pl.cfg.Pipeline

	linked := map[*port.Port]bool{}

	for _, name := range pl.order {
		n := pl.nodes[name]
		for _, p := range append(append([]*port.Port{}, n.inputs...), n.outputs...) {
			if err := p.FormatCommit(); err != nil {
				return fmt.Errorf("format commit on %s: %w", p.Name(), err)
			}
			if p.Type == port.TypeOutput {
				if p.BufferNum < uint32(geom.BufferNum) {
					p.BufferNum = uint32(geom.BufferNum)
				}
				if p.BufferSize < uint32(geom.BufferSize) {
					p.BufferSize = uint32(geom.BufferSize)
				}
			}
		}
	}

	for _, l := range pl.cfg.Pipeline.Links {
		from, err := pl.endpoint(l.From, true)
		if err != nil {
			return err
		}
		to, err := pl.endpoint(l.To, false)
		if err != nil {
			return err
		}
		if err := port.Connect(from, to); err != nil {
			return fmt.Errorf("connect %s -> %s: %w", from.Name(), to.Name(), err)
		}
		linked[from] = true
		linked[to] = true
	}

	// Enabling the output side of every link brings the input side up
	// with it.
	for _, l := range pl.cfg.Pipeline.Links {
		from, _ := pl.endpoint(l.From, true)
		if from.IsEnabled() {
			continue
		}
		if err := from.Enable(nil); err != nil {
			return fmt.Errorf("enable %s: %w", from.Name(), err)
		}
	}

	// Unlinked outputs run as if a client drove them: feed and recycle.
	for _, name := range pl.order {
		for _, p := range pl.nodes[name].outputs {
			if linked[p] {
				continue
			}
			if err := pl.feed(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (pl *Pipeline) feed(p *port.Port) error {
	f := &feeder{p: p, eos: make(chan struct{})}

	if err := p.Enable(f.returned); err != nil {
		return fmt.Errorf("enable %s: %w", p.Name(), err)
	}

	pool, err := bufpool.New(int(p.BufferNum), p.BufferSize)
	if err != nil {
		p.Disable()
		return err
	}
	f.pool = pool
	pool.CallbackSet(f.recycle, nil)

	for i := uint32(0); i < p.BufferNum; i++ {
		h := pool.Queue().Get()
		if h == nil {
			break
		}
		if err := p.SendBuffer(h); err != nil {
			h.Release()
			p.Disable()
			pool.Destroy()
			return fmt.Errorf("feed %s: %w", p.Name(), err)
		}
	}

	pl.feeders = append(pl.feeders, f)
	return nil
}

// returned receives every buffer coming back from an unlinked output.
func (f *feeder) returned(p *port.Port, h *bufpool.Header) {
	if h.Flags&bufpool.FlagEOS != 0 {
		select {
		case <-f.eos:
		default:
			close(f.eos)
		}
	}
	if h.Length > 0 {
		flog.Tracef("%s: %d bytes, pts %d", p.Name(), h.Length, h.PTS)
	}
	h.Release()
}

// recycle sends a drained buffer straight back into the port, unless the
// stream ended.
func (f *feeder) recycle(pool *bufpool.Pool, h *bufpool.Header, userdata any) bool {
	select {
	case <-f.eos:
		return true
	default:
	}
	h.Reset()
	return f.p.SendBuffer(h) != nil
}

// Run drives the pipeline until the duration elapses, every feeder sees
// EOS, or stop closes. Zero duration means no time limit.
func (pl *Pipeline) Run(d time.Duration, stop <-chan struct{}) error {
	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	// A nil channel never fires: with no feeders the run is bounded by
	// the duration or the stop signal alone.
	var alldone chan struct{}
	if len(pl.feeders) > 0 {
		alldone = make(chan struct{})
		go func(feeders []*feeder) {
			for _, f := range feeders {
				<-f.eos
			}
			close(alldone)
		}(pl.feeders)
	}

	select {
	case <-stop:
		flog.Infof("pipeline interrupted")
	case <-timeout:
		flog.Infof("pipeline time limit reached")
	case <-alldone:
		flog.Infof("pipeline drained")
	}
	return pl.teardown()
}

func (pl *Pipeline) teardown() error {
	var firstErr error

	// Disable the output side of every link; the core cascades to the
	// inputs. Then break the links.
	for _, l := range pl.cfg.Pipeline.Links {
		from, err := pl.endpoint(l.From, true)
		if err != nil {
			continue
		}
		if from.IsEnabled() {
			if err := from.Disable(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := from.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, f := range pl.feeders {
		if err := f.p.Disable(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.pool.Destroy()
	}
	pl.feeders = nil

	pl.Close()
	return firstErr
}

// Close releases every component. Safe after a partial Build.
func (pl *Pipeline) Close() {
	for _, name := range pl.order {
		if n := pl.nodes[name]; n != nil && n.close != nil {
			n.close()
		}
	}
	pl.nodes = map[string]*node{}
	pl.order = nil
}

// Stats returns the rx-side core statistics of a named port.
func (pl *Pipeline) Stats(component string, output bool, index int) (port.CoreStats, error) {
	n, ok := pl.nodes[component]
	if !ok {
		return port.CoreStats{}, fmt.Errorf("unknown component %q", component)
	}
	ports := n.inputs
	if output {
		ports = n.outputs
	}
	if index >= len(ports) {
		return port.CoreStats{}, fmt.Errorf("component %q has no port %d", component, index)
	}
	sp := &port.CoreStatsParam{Dir: port.StatsRx}
	param := &port.Parameter{ID: port.ParamCoreStatistics, Data: sp}
	if err := ports[index].ParameterGet(param); err != nil {
		return port.CoreStats{}, err
	}
	return sp.Stats, nil
}
