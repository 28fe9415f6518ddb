// Package logflags parses the UNWIND_LOG environment variable into a
// bitset of diagnostic subsystems, the same split delve's pkg/logflags
// uses for --log-output: a subsystem is expensive to log only when
// asked, and every call site checks the flag before building a
// logrus.Entry so the hot unwind path never touches logrus when logging
// is off.
package logflags

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type flag uint32

const (
	flagFinder flag = 1 << iota
	flagFrame
	flagABI
	flagRegistry
)

var (
	mu      sync.RWMutex
	enabled flag
	logger  = logrus.StandardLogger()
)

func init() {
	Parse(os.Getenv("UNWIND_LOG"))
}

// Parse sets the enabled subsystems from a comma-separated list of
// names: finder, frame, abi, registry, or all. Unknown names are
// ignored, matching delve's tolerant --log-output parsing.
func Parse(spec string) {
	mu.Lock()
	defer mu.Unlock()
	enabled = 0
	for _, name := range strings.Split(spec, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "finder":
			enabled |= flagFinder
		case "frame":
			enabled |= flagFrame
		case "abi":
			enabled |= flagABI
		case "registry":
			enabled |= flagRegistry
		case "all":
			enabled |= flagFinder | flagFrame | flagABI | flagRegistry
		}
	}
}

func isSet(f flag) bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled&f != 0
}

// Finder reports whether FDE-finder diagnostics are enabled.
func Finder() bool { return isSet(flagFinder) }

// Frame reports whether CFI/frame-decode diagnostics are enabled.
func Frame() bool { return isSet(flagFrame) }

// ABI reports whether two-phase unwind state-machine diagnostics are
// enabled.
func ABI() bool { return isSet(flagABI) }

// Registry reports whether __register_frame/__deregister_frame
// diagnostics are enabled.
func Registry() bool { return isSet(flagRegistry) }

// FinderLogger, FrameLogger, ABILogger and RegistryLogger return a
// pre-tagged logrus.Entry for their subsystem. Callers must still guard
// with the matching predicate above before calling these, to avoid
// paying for the Entry allocation when the subsystem is disabled.
func FinderLogger() *logrus.Entry   { return logger.WithField("subsystem", "finder") }
func FrameLogger() *logrus.Entry    { return logger.WithField("subsystem", "frame") }
func ABILogger() *logrus.Entry      { return logger.WithField("subsystem", "abi") }
func RegistryLogger() *logrus.Entry { return logger.WithField("subsystem", "registry") }
