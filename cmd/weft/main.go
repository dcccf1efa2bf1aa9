// Command weft compiles, renders and inspects weft templates.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/vango-dev/weft/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	dir        string
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errors.AutoColors(os.Stderr)
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		errors.PrintError(os.Stderr, errors.FromError(err, "W501"))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "weft",
		Short: "Compile and render live templates",
		Long: `weft compiles declarative markup templates into render routines and
keeps the trees they produce in sync with a live surface.

  • t-if / t-foreach / t-call / t-set / t-esc directives
  • keyed reconciliation with static hoisting
  • components with async setup, committed in whole subtrees
  • devtools server with a live mutation stream`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.dir, "dir", "C", ".", "Project directory")
	pf.StringVarP(&g.configPath, "config", "c", "", "Config file (default: weft.json or weft.yaml in --dir)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format: text or json (default from config)")

	rootCmd.AddCommand(
		renderCmd(g),
		checkCmd(g),
		serveCmd(g),
		versionCmd(),
	)
	return rootCmd
}

// colorOut reports whether w is a terminal.
func colorOut(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	mark := "✓"
	if colorOut(w) {
		mark = "\033[32m✓\033[0m"
	}
	fmt.Fprintf(w, "%s %s\n", mark, fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "  %s\n", fmt.Sprintf(format, args...))
}
