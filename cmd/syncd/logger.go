package main

import (
	"io"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// newConsoleProvider builds the root logger. Components get named children
// through GetLogger.
func newConsoleProvider(w io.Writer, level string) *glog.BaseLogger {
	return glog.NewLogger(
		glog.WithWriter(w),
		glog.WithLevel(strings.ToUpper(strings.TrimSpace(level))),
		glog.WithLoggerTypeConsole(),
	)
}
