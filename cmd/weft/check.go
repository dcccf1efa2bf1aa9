package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vango-dev/weft/internal/errors"
)

func checkCmd(g *globalFlags) *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compile every template and report errors",
		Long: `Check compiles every template in the templates directory and prints a
formatted error for each one that fails.

Examples:
  weft check
  weft check --compact`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, errs, err := loadProject(g, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			for _, err := range p.reg.CompileAll() {
				errs = append(errs, p.describe(err))
			}

			stderr := cmd.ErrOrStderr()
			for _, err := range errs {
				we := errors.FromError(err, "W101")
				if compact {
					fmt.Fprintln(stderr, we.FormatCompact())
				} else {
					fmt.Fprint(stderr, we.Format())
				}
			}
			if len(errs) > 0 {
				return errors.New("W501").Wrap(fmt.Errorf("%d template error(s)", len(errs)))
			}

			success(cmd.OutOrStdout(), "%d templates compiled", len(p.reg.Names()))
			info(cmd.OutOrStdout(), "parses: %d", p.reg.ParseCount())
			return nil
		},
	}

	cmd.Flags().BoolVar(&compact, "compact", false, "Print one line per error")

	return cmd
}
