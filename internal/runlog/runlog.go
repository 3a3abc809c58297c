// Package runlog provides the component-tagged loggers used throughout
// swarmproof, following the "[component] message" convention the rest of
// the omnicloud toolset uses instead of a structured logging library.
package runlog

import (
	"log"
	"os"
)

// New returns a logger that prefixes every line with "[tag] ".
func New(tag string) *log.Logger {
	return log.New(os.Stderr, "["+tag+"] ", log.LstdFlags)
}
