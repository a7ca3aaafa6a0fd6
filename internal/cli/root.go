package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/mutacheck/internal/config"
)

// ExitError carries a process exit code. It is returned when the command
// itself worked but its outcome should fail the invocation.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	return e.Msg
}

// Exit codes.
const (
	exitFindings = 1
	exitUsage    = 2
)

// globals are the values shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:   "mutacheck",
		Short: "Judge how confidently Java classes can be considered immutable",
		Long: `mutacheck inspects the structure of Java classes (fields, field types,
constructors and the fields each method assigns) and reports one of four
verdicts per class, with the reasons that led to it:

  DEFINITELY_IMMUTABLE      no way to mutate an instance was found
  PROBABLY_IMMUTABLE        immutable in practice, with a minor caveat
  MAYBE_IMMUTABLE           not provable, e.g. the class can be subclassed
  DEFINITELY_NOT_IMMUTABLE  a concrete way to mutate an instance was found

Classes are read from Java sources (--source) and YAML class descriptors
(--descriptors). Settings can also be kept in .mutacheck.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default: .mutacheck.yaml in the working directory)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newCheckCmd(g),
		newCheckersCmd(),
		newAllowListCmd(g),
		newVersionCmd(),
	)
	return cmd
}

func (g *globals) setup(cmd *cobra.Command) error {
	var err error
	if g.configPath != "" {
		g.cfg, err = config.Load(g.configPath)
	} else {
		dir, wdErr := os.Getwd()
		if wdErr != nil {
			return wdErr
		}
		g.cfg, err = config.LoadDir(dir)
	}
	if err != nil {
		return &ExitError{Code: exitUsage, Msg: err.Error()}
	}

	level := g.cfg.Level()
	if g.logLevel != "" {
		level = config.ParseLevel(g.logLevel)
	}
	g.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	if g.cfg.Path != "" {
		g.logger.Debug("config loaded", slog.String("path", g.cfg.Path))
	}
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Msg != "" {
			fmt.Fprintln(os.Stderr, exit.Msg)
		}
		return exit.Code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitUsage
}
