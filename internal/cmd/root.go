// Package cmd implements the tidal command-line interface.
package cmd

import (
	"errors"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tidaljs/tidal/errext"
	"github.com/tidaljs/tidal/errext/exitcodes"
)

// rootCommand keeps all the state needed by the root tidal command.
type rootCommand struct {
	cmd    *cobra.Command
	logger *logrus.Logger

	verbose bool
	noColor bool
}

func newRootCommand() *rootCommand {
	c := &rootCommand{logger: logrus.New()}
	c.logger.SetOutput(os.Stderr)

	rootCmd := &cobra.Command{
		Use:               "tidal",
		Short:             "tidal is a JavaScript runtime for the command line",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}
	rootCmd.PersistentFlags().AddFlagSet(c.persistentFlagSet())

	rootCmd.AddCommand(getCmdRun(c), getCmdVersion())
	c.cmd = rootCmd
	return c
}

func (c *rootCommand) persistentFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")
	return flags
}

func (c *rootCommand) persistentPreRunE(_ *cobra.Command, _ []string) error {
	conf, err := readEnvConfig()
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	if conf.NoColor.Valid && conf.NoColor.Bool {
		c.noColor = true
	}

	level := logrus.InfoLevel
	if c.verbose {
		level = logrus.DebugLevel
	} else if conf.LogLevel.Valid {
		level, err = logrus.ParseLevel(conf.LogLevel.String)
		if err != nil {
			return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
		}
	}
	c.logger.SetLevel(level)

	if conf.LogFormat.Valid && conf.LogFormat.String == "json" {
		c.logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		c.logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   c.stderrIsTTY() && !c.noColor,
			DisableColors: c.noColor,
		})
	}
	return nil
}

func (c *rootCommand) stderrIsTTY() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

// Execute runs the root command and applies the exit-code policy on
// failure.
func Execute() {
	c := newRootCommand()

	err := c.cmd.Execute()
	if err == nil {
		return
	}

	var xerr errext.Exception
	if errors.As(err, &xerr) {
		// a script exception carries its own formatted stack trace; print
		// it the way the engine formatted it
		red := color.New(color.FgRed)
		if c.noColor || !c.stderrIsTTY() {
			red.DisableColor()
		}
		_, _ = red.Fprintln(os.Stderr, xerr.StackTrace())
	} else {
		errText, fields := errext.Format(err)
		c.logger.WithFields(fields).Error(errText)
	}

	exitCode := exitcodes.GenericError
	var ecerr errext.HasExitCode
	if errors.As(err, &ecerr) {
		exitCode = ecerr.ExitCode()
	}
	os.Exit(int(exitCode)) //nolint:gocritic
}
