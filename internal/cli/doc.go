// Package cli is responsible for parsing command-line arguments and
// handling process-level concerns like exit codes. It layers flags over the
// configuration loaded by package config.
package cli
