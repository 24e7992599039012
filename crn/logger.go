package crn

import (
	"io"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

var loggerPtr atomic.Pointer[log.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

func newNopLogger() *log.Logger {
	l := log.New(io.Discard)
	l.SetLevel(log.FatalLevel)
	return l
}

// SetLogger installs the logger used by the compressor. By default nothing is
// logged. Pass nil to restore the silent default.
//
// Phase timings, codebook sizes and remap trial costs are logged at debug
// level.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the logger installed with SetLogger.
func Logger() *log.Logger {
	return loggerPtr.Load()
}
