// Package cli provides the command-line interface for stamping PDFs with a
// token identity.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/georgepadayatti/tokenstamp/config"
	"github.com/georgepadayatti/tokenstamp/logging"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// app carries what every subcommand shares.
type app struct {
	configPath string
	out        io.Writer
	errOut     io.Writer

	// prompt reads the PIN in PROMPT mode.
	prompt config.PINSource
}

// flags shared by every command that loads the configuration
var loggingFlagKeys = map[string]string{
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"log-output": "logging.output",
}

// Run executes the CLI with the given arguments and exits non-zero on
// failure. This is the main entry point for the CLI.
func Run(args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := NewRootCommand(os.Stdout, os.Stderr)
	root.SetArgs(args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		osExit(1)
	}
}

// NewRootCommand builds the command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}
	a.prompt = config.Terminal{In: os.Stdin, Prompt: errOut}.ReadPIN

	root := &cobra.Command{
		Use:   "tokenstamp",
		Short: "Stamp PDFs with the identity on a PKCS#11 token",
		Long: `tokenstamp reads the certificate label from a PKCS#11 token and draws a
"Digitally Signed by" stamp next to each occurrence of a phrase in a PDF.

The input file is never modified; the stamped copy is written as an
incremental update to a new file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (console, json)")
	pf.String("log-output", "", "log output (stderr, stdout, or file path)")

	root.AddCommand(
		a.stampCommand(),
		a.locateCommand(),
		a.tokenCommand(),
		a.configCommand(),
		a.versionCommand(),
	)
	return root
}

// load reads the layered configuration with the command's flags bound to
// the keys in extra.
func (a *app) load(cmd *cobra.Command, extra map[string]string) (*config.Config, error) {
	keys := make(map[string]string, len(loggingFlagKeys)+len(extra))
	for k, v := range loggingFlagKeys {
		keys[k] = v
	}
	for k, v := range extra {
		keys[k] = v
	}
	return config.Load(a.configPath, cmd.Flags(), keys)
}

// logger builds the run logger. The caller syncs it.
func (a *app) logger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "tokenstamp version %s\n", Version)
			fmt.Fprintf(a.out, "Build time: %s\n", BuildTime)
		},
	}
}
