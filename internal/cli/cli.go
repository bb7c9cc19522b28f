package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"ultaai-agent/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns the validated
// configuration, a boolean indicating if the program should exit cleanly,
// or an ExitError. getenv may be nil to use the process environment.
func Parse(args []string, output io.Writer, getenv func(string) string) (*config.Config, bool, error) {
	slog.Debug("CLI parser started.")
	if getenv == nil {
		getenv = os.Getenv
	}

	flagSet := flag.NewFlagSet("ultaai-agent", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, `
UltaAI Agent - runs self-describing modules on behalf of the control server.

Usage:
  ultaai-agent [options]

Every option can also be set in the config file or as ULTAAI_<OPTION>
in the environment (dashes become underscores).

Options:
`)
		flagSet.PrintDefaults()
	}

	configFile := flagSet.String("config-file", "", "JSON or YAML config file (or "+config.EnvConfigFile+").")
	envFile := flagSet.String("env-file", config.DefaultEnvFile, "Dotenv file read before the config file.")
	defaults := config.Defaults()
	for _, f := range config.Fields() {
		flagSet.String(f.Key, f.Get(defaults), f.Usage+".")
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if flagSet.NArg() > 0 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected argument %q", flagSet.Arg(0))}
	}
	slog.Debug("Arguments parsed successfully.")

	cfg, err := config.Load(config.Sources{EnvFile: *envFile, ConfigFile: *configFile, Getenv: getenv})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	// Only flags given on the command line override lower layers.
	var setErr error
	flagSet.Visit(func(fl *flag.Flag) {
		if setErr != nil || fl.Name == "config-file" || fl.Name == "env-file" {
			return
		}
		setErr = cfg.Set(fl.Name, fl.Value.String())
	})
	if setErr != nil {
		return nil, false, &ExitError{Code: 2, Message: setErr.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("CLI parser finished successfully.")
	return cfg, false, nil
}
