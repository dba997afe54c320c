// Package logging provides opt-in file-based logging with rotation for the
// noungraph engine. The engine itself never sets a package-level default
// logger: callers construct one with Setup and pass it to noungraph.New
// via WithLogger.
package logging
