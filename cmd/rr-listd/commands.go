package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/haukened/rr-lists/internal/lists/common/log"
	"github.com/haukened/rr-lists/internal/lists/config"
	"github.com/haukened/rr-lists/internal/lists/domain"
)

// loadConfig is a seam for tests.
var loadConfig = config.Load

// cli carries the application built by the root command's pre-run hook.
type cli struct {
	app *Application
}

// execute runs the command line and closes the application afterwards,
// whether or not the command succeeded.
func execute(args []string, stdout, stderr io.Writer) error {
	c := &cli{}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if c.app != nil {
		err = multierr.Append(err, c.app.Close())
	}
	return err
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Tracker and region list ingestion daemon",
		Long:          "rr-listd downloads tracker, region and attribution lists, verifies them against their manifests, persists them atomically and compiles the tracker list into content-blocking rules.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
				return fmt.Errorf("logging configuration error: %w", err)
			}
			app, err := buildApplication(cfg)
			if err != nil {
				return fmt.Errorf("failed to build application: %w", err)
			}
			c.app = app
			return nil
		},
	}

	root.AddCommand(
		c.runCommand(),
		c.refreshCommand(),
		c.ingestCommand(),
		c.compileCommand(),
		c.regionCommand(),
		c.etagCommand(),
		c.lookupCommand(),
	)
	return root
}

func (c *cli) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon: compile rules and refresh lists on schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.app.config
			log.Info(map[string]any{
				"version":          version,
				"env":              cfg.Env,
				"log_level":        cfg.LogLevel,
				"data_dir":         cfg.DataDir,
				"state_db":         cfg.StateDB,
				"refresh_interval": cfg.RefreshInterval.String(),
				"unprotected":      cfg.Unprotected,
			}, "Starting rr-listd")

			// Setup graceful shutdown
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Handle shutdown and refresh signals
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigChan)

			go func() {
				for {
					select {
					case sig := <-sigChan:
						if sig == syscall.SIGHUP {
							log.Info(nil, "SIGHUP received, refreshing lists")
							c.app.scheduler.Trigger()
							continue
						}
						log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
						cancel()
						return
					case <-ctx.Done():
						return
					}
				}
			}()

			if err := c.app.Run(ctx); err != nil {
				return err
			}
			log.Info(nil, "rr-listd stopped gracefully")
			return nil
		},
	}
}

func (c *cli) refreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [list]",
		Short: "Refresh one list, or all of them, once and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				key, err := domain.ParseListKey(args[0])
				if err != nil {
					return err
				}
				res, err := c.app.service.Refresh(cmd.Context(), key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", res.List, res.Outcome, res.Entries)
				return nil
			}
			results, err := c.app.service.RefreshAll(cmd.Context())
			for _, res := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", res.List, res.Outcome, res.Entries)
			}
			return err
		},
	}
}

func (c *cli) ingestCommand() *cobra.Command {
	var manifestPath string
	cmd := &cobra.Command{
		Use:   "ingest <list> <file>",
		Short: "Verify and install a list payload from a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := domain.ParseListKey(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			var manifest *domain.IntegritySpec
			if manifestPath != "" {
				raw, err := os.ReadFile(manifestPath)
				if err != nil {
					return fmt.Errorf("read manifest: %w", err)
				}
				var spec domain.IntegritySpec
				if err := json.Unmarshal(raw, &spec); err != nil {
					return fmt.Errorf("decode manifest: %w", err)
				}
				manifest = &spec
			}
			n, err := c.app.service.Ingest(key, data, manifest)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries installed\n", key, n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "integrity manifest JSON to verify the payload against")
	return cmd
}

func (c *cli) compileCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the stored tracker list into a content-blocking rule document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = c.app.config.RulesPath()
			}
			n, err := c.app.service.WriteRules(out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rules written to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: content-rules.json in the data dir)")
	return cmd
}

func (c *cli) regionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "region [code]",
		Short: "Look up a region filter, or list all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			regions := domain.RegionList(c.app.regions.Entries()).WithDefault()
			if len(args) == 0 {
				for _, r := range regions {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.FilterCode, r.DisplayName)
				}
				return nil
			}
			r := regions.Lookup(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.FilterCode, r.DisplayName)
			return nil
		},
	}
}

func (c *cli) etagCommand() *cobra.Command {
	var clearETag bool
	cmd := &cobra.Command{
		Use:   "etag <list>",
		Short: "Show or clear the cached ETag of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := domain.ParseListKey(args[0])
			if err != nil {
				return err
			}
			if clearETag {
				if err := c.app.etags.Set(key, ""); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: etag cleared\n", key)
				return nil
			}
			etag, ok := c.app.etags.ETag(key)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no etag\n", key)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", key, etag)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearETag, "clear", false, "forget the cached ETag, forcing a full download next refresh")
	return cmd
}

func (c *cli) lookupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <url>...",
		Short: "Resolve request URLs against the tracker list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, u := range args {
				entry, ok := c.app.observer.ObserveURL(u)
				if !ok {
					fmt.Fprintf(out, "%s\t-\n", u)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", u, entry.Domain, entry.Category)
			}
			for _, cat := range domain.Categories {
				if n := c.app.monitor.CountFor(cat); n > 0 {
					fmt.Fprintf(out, "# %s: %d\n", cat, n)
				}
			}
			return nil
		},
	}
}
