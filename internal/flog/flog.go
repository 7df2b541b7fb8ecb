package flog

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

type Level int32

const None Level = -1
const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
	Fatal
)

var (
	minLevel atomic.Int32
	logCh    = make(chan string, 1024)
	started  atomic.Bool
)

func init() {
	minLevel.Store(int32(Info))
}

// SetLevel sets the minimum level that gets written out and starts the
// drain goroutine. Messages logged below the level are dropped; messages
// logged before the first SetLevel call wait in the channel (up to its
// capacity) and are written once the drain goroutine starts.
func SetLevel(l int) {
	minLevel.Store(int32(l))
	if l != int(None) && started.CompareAndSwap(false, true) {
		go func() {
			for msg := range logCh {
				fmt.Fprint(os.Stdout, msg)
			}
		}()
	}
}

func logf(level Level, format string, args ...any) {
	min := Level(minLevel.Load())
	if level < min || min == None {
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05.000")
	line := fmt.Sprintf("%s [%s] %s\n", now, level.String(), fmt.Sprintf(format, args...))

	select {
	case logCh <- line:
	default:
	}
}

func (l Level) String() string {
	switch l {
	case Trace:
		return "TRACE"
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	case None:
		return "None"
	default:
		return "UNKNOWN"
	}
}

func Tracef(format string, args ...any) { logf(Trace, format, args...) }
func Debugf(format string, args ...any) { logf(Debug, format, args...) }
func Infof(format string, args ...any)  { logf(Info, format, args...) }
func Warnf(format string, args ...any)  { logf(Warn, format, args...) }
func Errorf(format string, args ...any) { logf(Error, format, args...) }
func Fatalf(format string, args ...any) {
	// Fatal messages must not be dropped: blocking write, then give the
	// drain goroutine time to flush before exiting.
	if Level(minLevel.Load()) != None && started.Load() {
		now := time.Now().Format("2006-01-02 15:04:05.000")
		logCh <- fmt.Sprintf("%s [%s] %s\n", now, Fatal.String(), fmt.Sprintf(format, args...))
		time.Sleep(50 * time.Millisecond)
	}
	os.Exit(1)
}

func Close() { close(logCh) }
