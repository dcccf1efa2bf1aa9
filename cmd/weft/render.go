package main

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/spf13/cobra"
	"github.com/vango-dev/weft/pkg/component"
	"github.com/vango-dev/weft/pkg/fiber"
	"github.com/vango-dev/weft/pkg/surface"
	"github.com/vango-dev/weft/pkg/vdom"
)

func renderCmd(g *globalFlags) *cobra.Command {
	var (
		dataPath string
		tree     bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "render [template]",
		Short: "Render a template to HTML",
		Long: `Render mounts a template on a fresh surface, waits for every component
below it to commit and prints the resulting HTML.

The template defaults to templates.entry from the config. Data comes from
--data or the config's data file (JSON or YAML) and is the template's state.

Examples:
  weft render
  weft render dashboard --data fixtures/dashboard.yaml
  weft render --tree`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, loadErrs, err := loadProject(g, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			if len(loadErrs) > 0 {
				return loadErrs[0]
			}
			entry, err := p.entry(args)
			if err != nil {
				return err
			}
			data, err := p.data(dataPath)
			if err != nil {
				return err
			}

			doc := surface.New()
			sched := fiber.New(doc, p.reg,
				fiber.WithLogger(p.logger),
				fiber.WithContext(cmd.Context()),
				fiber.WithComponents(p.components()...),
			)
			def := &component.Definition{
				Name:     path.Base(entry),
				Template: entry,
				Setup: func(context.Context, map[string]any, component.Env) (any, error) {
					return data, nil
				},
			}
			u, fut := sched.Mount(def, doc.Target(doc.Body()), nil)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := sched.Await(ctx, fut); err != nil {
				return p.describe(err)
			}

			out := cmd.OutOrStdout()
			if tree {
				fmt.Fprint(out, vdom.Dump(u.Committed))
				return nil
			}
			fmt.Fprintln(out, doc.HTML(doc.Body()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "JSON or YAML data file (default from config)")
	cmd.Flags().BoolVar(&tree, "tree", false, "Print the rendered node tree instead of HTML")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Maximum time to wait for async setups")

	return cmd
}
