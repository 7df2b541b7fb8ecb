package port

import "time"

// StatsDir selects which direction of a port's statistics to read.
type StatsDir int

const (
	StatsRx StatsDir = iota // buffers sent into the port
	StatsTx                 // buffers returned by the component
)

// CoreStats is the per-direction statistics record the core keeps for a
// port. Times are monotonic microseconds from process start.
type CoreStats struct {
	BufferCount     uint64
	FirstBufferTime uint64
	LastBufferTime  uint64
	MaxDelay        uint64
}

var statsEpoch = time.Now()

// microseconds is the core's monotonic time source.
func microseconds() uint64 {
	return uint64(time.Since(statsEpoch).Microseconds())
}

// statsUpdate records one buffer passing the port, called per buffer.
func (p *Port) statsUpdate(dir StatsDir) {
	now := microseconds()

	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	stats := &p.stats.tx
	if dir == StatsRx {
		stats = &p.stats.rx
	}

	stats.BufferCount++

	if stats.FirstBufferTime == 0 {
		stats.FirstBufferTime = now
		stats.LastBufferTime = now
	} else {
		if delay := now - stats.LastBufferTime; delay > stats.MaxDelay {
			stats.MaxDelay = delay
		}
		stats.LastBufferTime = now
	}
}
