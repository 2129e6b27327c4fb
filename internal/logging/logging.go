// Package logging configures the process-wide go-pkgz/lgr logger, lifted
// directly from umputun/weblist/main.go#setupLog: the same colorized
// level mapping via fatih/color, extended with secrets redaction for
// anything callers mark sensitive (session tokens, admin bearer tokens).
package logging

import (
	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
)

// Setup configures the standard logger and go-pkgz/lgr's own Setup/
// SetupStdLogger, matching every call site that logs via lgr.Printf.
// debug enables caller file/func/line and debug-level output; secrets
// are redacted wherever they appear in a log line.
func Setup(debug bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if debug {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	if len(secrets) > 0 {
		logOpts = append(logOpts, lgr.Secret(secrets...))
	}

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
