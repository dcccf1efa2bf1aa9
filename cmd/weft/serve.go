package main

import (
	"context"
	stderrors "errors"
	"path"

	"github.com/spf13/cobra"
	"github.com/vango-dev/weft/pkg/component"
	"github.com/vango-dev/weft/pkg/devtools"
	"github.com/vango-dev/weft/pkg/fiber"
	"github.com/vango-dev/weft/pkg/surface"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var (
		addr     string
		dataPath string
	)

	cmd := &cobra.Command{
		Use:   "serve [template]",
		Short: "Run the scheduler with the devtools server",
		Long: `Serve mounts a template on a live surface, runs the scheduler loop and
exposes the devtools HTTP server.

POST a JSON object to /state to replace the template's state; connected
/ws clients receive every resulting surface mutation.

Examples:
  weft serve
  weft serve --addr :7070`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			p, loadErrs, err := loadProject(g, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			if len(loadErrs) > 0 {
				return loadErrs[0]
			}
			if addr == "" {
				addr = p.cfg.Devtools.Addr
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
				fiber.WithContext(ctx),
				fiber.WithFrameInterval(p.cfg.FrameInterval()),
				fiber.WithMetrics(fiber.WithNamespace(p.cfg.Metrics.Namespace)),
				fiber.WithComponents(p.components()...),
			)
			store := component.NewStore(data)
			def := &component.Definition{
				Name:     path.Base(entry),
				Template: entry,
				Setup: func(context.Context, map[string]any, component.Env) (any, error) {
					return store, nil
				},
			}

			runErr := make(chan error, 1)
			go func() { runErr <- sched.Run(ctx) }()

			var fut *fiber.Future
			if err := sched.Do(ctx, func() {
				_, fut = sched.Mount(def, doc.Target(doc.Body()), nil)
			}); err != nil {
				return err
			}
			if err := fut.Wait(ctx); err != nil {
				return p.describe(err)
			}
			success(cmd.OutOrStdout(), "Mounted %s", entry)
			success(cmd.OutOrStdout(), "Devtools on http://%s", addr)

			dt := devtools.New(sched, devtools.WithLogger(p.logger))
			err = dt.ListenAndServe(ctx, addr)
			cancel()
			<-runErr
			if stderrors.Is(err, context.Canceled) {
				info(cmd.OutOrStdout(), "Shutting down...")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "JSON or YAML data file (default from config)")

	return cmd
}
