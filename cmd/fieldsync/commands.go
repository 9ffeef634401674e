package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cloud-shuttle/fieldsync/internal/config"
	"github.com/cloud-shuttle/fieldsync/internal/db"
	"github.com/cloud-shuttle/fieldsync/internal/housekeeping"
	"github.com/cloud-shuttle/fieldsync/internal/natsbridge"
	"github.com/cloud-shuttle/fieldsync/internal/outbound"
	"github.com/cloud-shuttle/fieldsync/internal/reconcile"
	"github.com/cloud-shuttle/fieldsync/internal/server"
	"github.com/cloud-shuttle/fieldsync/internal/socket"
	"github.com/cloud-shuttle/fieldsync/internal/workflow"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration and create the database",
		Long: `Write the default configuration file and create the task database.

The configuration carries the property schema, the status diagram and the
dispatch endpoints. An existing configuration file is left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := config.WriteDefault(configPath)
			if err != nil {
				return err
			}
			loaded, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			store, err := db.Open(loaded.DatabasePath)
			if err != nil {
				return fmt.Errorf("creating database: %w", err)
			}
			defer store.Close()
			if err := store.InitSchema(); err != nil {
				return fmt.Errorf("initializing schema: %w", err)
			}

			if written {
				fmt.Printf("🛠️  Wrote configuration to %s\n", configPath)
			} else {
				fmt.Printf("🛠️  Keeping existing configuration %s\n", configPath)
			}
			fmt.Printf("🗄️  Database ready at %s\n", loaded.DatabasePath)
			fmt.Println("\nNext steps:")
			fmt.Println("  fieldsync load --engineer 10002")
			fmt.Println("  fieldsync serve")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engineer and dispatch listeners",
		Long: `Run the engineer-facing listener (sessions, WebSocket, metrics) and the
dispatch interface until interrupted.

Optional transports:
- FIELDSYNC_DISPATCH_URL: forward engineer status changes to dispatch
- DBOS_SYSTEM_DATABASE_URL: forward through durable DBOS workflows (PostgreSQL)
- FIELDSYNC_NATS_URL: also accept dispatch messages over NATS request/reply`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var fwd reconcile.Forwarder
			if cfg.Dispatch.URL != "" {
				senderCfg := outbound.Config{
					URL:           cfg.Dispatch.URL,
					Username:      cfg.Dispatch.Username,
					Password:      cfg.Dispatch.Password,
					Secret:        cfg.Dispatch.Secret,
					Timeout:       cfg.Dispatch.Timeout.Std(),
					MaxRetries:    cfg.Dispatch.Retries,
					RetryInterval: cfg.Dispatch.RetryInterval.Std(),
				}

				if cfg.DBOSDatabaseURL != "" {
					fmt.Println("📮 Forwarding to dispatch through DBOS workflows (PostgreSQL)")
					dbosCtx, err := dbos.NewDBOSContext(context.Background(), dbos.Config{
						AppName:     "fieldsync",
						DatabaseURL: cfg.DBOSDatabaseURL,
					})
					if err != nil {
						return fmt.Errorf("initializing DBOS: %w", err)
					}
					// Workflow steps carry the retries.
					senderCfg.MaxRetries = 0
					durable := workflow.NewDurableForwarder(dbosCtx,
						outbound.NewHTTPSender(senderCfg, a.schema, a.logger), cfg.Dispatch.Retries, a.metrics, a.logger)
					if err := dbos.Launch(dbosCtx); err != nil {
						return fmt.Errorf("launching DBOS: %w", err)
					}
					defer dbos.Shutdown(dbosCtx, 5*time.Second)
					fwd = durable
				} else {
					fmt.Printf("📮 Forwarding to dispatch at %s (%d workers)\n", cfg.Dispatch.URL, cfg.Dispatch.Workers)
					forwarder := outbound.NewForwarder(outbound.NewHTTPSender(senderCfg, a.schema, a.logger),
						cfg.Dispatch.Timeout.Std(), a.metrics, a.logger)
					forwarder.Start(cfg.Dispatch.Workers)
					defer func() {
						stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
						defer cancel()
						if err := forwarder.Stop(stopCtx); err != nil {
							a.logger.Warn("outbound queue not drained", "error", err)
						}
					}()
					fwd = forwarder
				}
			} else {
				fmt.Println("📭 No dispatch URL configured, status changes stay local")
			}

			engine := a.engine(fwd)
			defer engine.Flush()
			disp := a.dispatcher(engine)

			janitor := housekeeping.New(a.sessions, a.store, a.days, a.logger)
			if err := janitor.Start(cfg.Housekeeping); err != nil {
				return err
			}
			defer janitor.Stop()

			srv := server.New(cfg.App.Addr, cfg.Dispatch.Addr, server.Deps{
				Sessions: a.sessions,
				Socket: socket.NewHandler(socket.Deps{
					Sessions:  a.sessions,
					Schedules: a.compiler,
					Engine:    engine,
					Diagram:   a.diagram,
					Days:      a.days,
					Hub:       a.hub,
					Logger:    a.logger,
				}),
				Dispatch:      disp,
				Gatherer:      a.registry,
				Health:        a.store.Ping,
				SessionMaxAge: cfg.App.SessionMaxAge.Std(),
				Logger:        a.logger,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })

			if cfg.NATS.URL != "" {
				nc, err := natsbridge.Connect(cfg.NATS.URL)
				if err != nil {
					return err
				}
				defer nc.Close()
				bridge := natsbridge.New(nc, cfg.NATS.Subject, disp, a.logger)
				if err := bridge.Start(); err != nil {
					return err
				}
				fmt.Printf("📡 Accepting dispatch messages on NATS subject %s\n", cfg.NATS.Subject)
				g.Go(func() error {
					<-gctx.Done()
					return bridge.Stop()
				})
			}

			fmt.Printf("🚚 fieldsync serving engineers on %s, dispatch on %s\n", cfg.App.Addr, cfg.Dispatch.Addr)
			if a.days.Faked() {
				fmt.Printf("📅 Fake date %s (day offset %d)\n", cfg.Logic.FakeDate, a.days.DayOffset())
			}

			err = g.Wait()
			fmt.Println("\n👋 Shutting down")
			return err
		},
	}
}

func scheduleCmd() *cobra.Command {
	var engineerID string
	var offset int

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show an engineer's schedule for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("offset") {
				offset = a.days.DayOffset()
			}
			view, err := a.compiler.Compile(cmd.Context(), []string{engineerID}, offset)
			if err != nil {
				return err
			}
			start, _ := a.days.Window(offset)
			fmt.Println(renderSchedule(a.schema, engineerID, start, view[engineerID]))
			return nil
		},
	}

	cmd.Flags().StringVarP(&engineerID, "engineer", "e", "", "Engineer id")
	cmd.Flags().IntVarP(&offset, "offset", "o", 0, "Day offset from today (defaults to the fake date's offset)")
	cmd.MarkFlagRequired("engineer")
	return cmd
}

func loadCmd() *cobra.Command {
	var engineerID string
	var offset int

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Replace an engineer's stored tasks with the schedule fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("offset") {
				offset = a.days.DayOffset()
			}
			tasks, err := a.engine(nil).Populate(cmd.Context(), engineerID, offset)
			if err != nil {
				return fmt.Errorf("loading schedule for %s: %w", engineerID, err)
			}
			fmt.Printf("📥 Loaded schedule for engineer %s: %d tasks visible on day offset %d\n",
				engineerID, len(tasks), offset)
			return nil
		},
	}

	cmd.Flags().StringVarP(&engineerID, "engineer", "e", "", "Engineer id")
	cmd.Flags().IntVarP(&offset, "offset", "o", 0, "Day offset from today (defaults to the fake date's offset)")
	cmd.MarkFlagRequired("engineer")
	return cmd
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Run one housekeeping pass",
		Long: `Purge sessions idle since before the start of the day two days ago, and
tasks starting before the end of that day. Tasks are kept when a fake date is
configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := housekeeping.New(a.sessions, a.store, a.days, a.logger).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("🧹 Purged %d sessions\n", res.Sessions)
			if res.TasksSkipped {
				fmt.Println("📅 Fake date configured, tasks kept")
			} else {
				fmt.Printf("🧹 Purged %d tasks\n", res.Tasks)
			}
			return nil
		},
	}
}
