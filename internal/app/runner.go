package app

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MithrandirBalrog/Clawlett/internal/config"
	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/model"
	"github.com/MithrandirBalrog/Clawlett/internal/out"
	"github.com/MithrandirBalrog/Clawlett/internal/version"
)

// Runner wires the command tree to its writers. Tests construct one with
// buffers and fake endpoints in the settings.
type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner       *Runner
	flags        config.GlobalFlags
	settings     config.Settings
	log          zerolog.Logger
	lastWarnings []string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	if err == nil {
		return 0
	}
	if _, ok := clierr.As(err); !ok {
		// Flag and argument errors surface from cobra untyped.
		err = clierr.Wrap(clierr.CodeUsage, "invalid usage", err)
	}
	state.renderError(err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Vault swap agent executing through a role-permission contract",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return err
			}
			s.settings = settings
			s.log = s.newLogger()
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	// Accept snake_case spellings of multi-word flags.
	flags.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	flags.StringVar(&s.flags.ConfigPath, "config", "", "path to config.yaml")
	flags.BoolVar(&s.flags.JSON, "json", false, "machine-readable JSON output")
	flags.BoolVar(&s.flags.Plain, "plain", false, "human-readable plain output")
	flags.BoolVarP(&s.flags.Verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&s.flags.RPCURL, "rpc-url", "", "override the chain RPC endpoint")
	flags.StringVar(&s.flags.Timeout, "timeout", "", "HTTP timeout, e.g. 10s")

	cmd.AddCommand(
		s.newSwapCommand(),
		s.newTokensCommand(),
		s.newAllowanceCommand(),
		s.newOrdersCommand(),
		newVersionCommand(),
	)
	return cmd
}

func (s *runtimeState) newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if s.settings.Verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: s.runner.stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func (s *runtimeState) emitSuccess(data any, warnings []string) error {
	env := model.Envelope{Success: true, Data: data, Warnings: warnings}
	return out.Render(s.runner.stdout, env, s.settings.OutputMode)
}

func (s *runtimeState) renderError(err error) {
	code := clierr.CodeInternal
	message := err.Error()
	if typed, ok := clierr.As(err); ok {
		code = typed.Code
	}
	env := model.Envelope{
		Success:  false,
		Warnings: s.lastWarnings,
		Error:    &model.ErrorInfo{Code: int(code), Message: message},
	}
	mode := s.settings.OutputMode
	if mode == "" {
		mode = out.ModeJSON
	}
	_ = out.Render(s.runner.stderr, env, mode)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), version.Long()+"\n")
			return err
		},
	}
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
