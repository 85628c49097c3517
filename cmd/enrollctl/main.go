package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"enrollment-service/config"
	"enrollment-service/internal/app"
	"enrollment-service/internal/broker"
	"enrollment-service/internal/store"
	"enrollment-service/internal/util"
	"enrollment-service/internal/worker"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "enrollctl",
		Short:         "Operator commands for the enrollment service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(ordersCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session opens the store and wires the services from the environment
type session struct {
	cfg      *config.Config
	db       *store.Store
	producer *broker.Producer
	app      *app.App
}

func openSession() (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		return nil, err
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents)
	a, err := app.New(cfg, db, app.Options{Publisher: broker.NewEventPublisher(producer)})
	if err != nil {
		producer.Close()
		db.Close()
		return nil, err
	}
	return &session{cfg: cfg, db: db, producer: producer, app: a}, nil
}

func (s *session) Close() {
	_ = s.producer.Close()
	_ = s.db.Close()
	util.SyncLogger()
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := store.NewStore(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func completeCmd() *cobra.Command {
	var all bool
	var batch int

	cmd := &cobra.Command{
		Use:   "complete [order-id...]",
		Short: "Try to finish paid orders and issue their certificates",
		Long: `Complete evaluates the grades of paid orders and finishes those whose
target courses are all passed. Without --all, only the given orders are tried.

Examples:
  enrollctl complete 7d9f0c1e-5b7a-4c1e-9a43-0f5b2f6c1d2a
  enrollctl complete --all --batch 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("give order ids or --all")
			}
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if all {
				sweeper := worker.NewCompletionSweeper(s.db, s.app.Orders, nil, s.cfg.Business.CompletionInterval, batch)
				result, err := sweeper.SweepOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "finished=%d pending=%d failed=%d\n", result.Finished, result.Pending, result.Failed)
				return nil
			}

			var failed int
			for _, id := range args {
				status, err := s.app.Orders.Complete(ctx, id)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s\terror: %v\n", id, err)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", id, status)
			}
			if failed > 0 {
				return fmt.Errorf("%d order(s) could not be completed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "sweep every paid order")
	cmd.Flags().IntVar(&batch, "batch", 100, "maximum number of orders swept with --all")
	return cmd
}

func ordersCmd() *cobra.Command {
	var states []string

	cmd := &cobra.Command{
		Use:   "orders [owner]",
		Short: "List the orders of a learner as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			orders, err := s.app.Orders.ListOrders(cmd.Context(), args[0], states)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(orders)
		},
	}

	cmd.Flags().StringSliceVarP(&states, "state", "s", nil, "filter by order states")
	return cmd
}
