package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/erauner12/fieldsync/internal/queue"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var runBackground bool

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Run the sync engine until interrupted",
	Long: `Start the sync engine: restore the queue, sync on reconnect and on the
foreground schedule, and stop cleanly on SIGINT or SIGTERM.

With --background only the lightweight background job runs (small batches,
operations with few retries, no pull).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withClient(ctx, func(ctx context.Context, c *client) error {
			c.engine.SetForeground(!runBackground)
			if err := c.engine.Start(ctx); err != nil {
				return err
			}
			if !runBackground {
				c.engine.TriggerSync(ctx, false)
			}

			<-ctx.Done()
			log.Info().Msg("shutting down")
			return nil
		})
	},
}

var syncForce bool

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle and print the resulting status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
			c.engine.Restore(ctx)
			if !c.engine.GetSyncStatus().IsOnline {
				fmt.Fprintln(os.Stderr, "offline: nothing synced")
			}
			return printJSON(c.engine.TriggerSync(ctx, syncForce))
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Print the sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
			c.engine.Restore(ctx)
			return printJSON(c.engine.GetSyncStatus())
		})
	},
}

var (
	enqueueData string
	enqueueSync bool
)

var enqueueCmd = &cobra.Command{
	Use:     "enqueue <create|update|delete> <entity-type> <entity-id>",
	GroupID: "queue",
	Short:   "Queue a local mutation",
	Example: `  fieldsync enqueue create lead L-100 --data '{"name":"Acme"}'
  fieldsync enqueue delete task T-7 --sync`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := queue.Input{
			Type:       queue.OperationType(args[0]),
			EntityType: queue.EntityType(args[1]),
			EntityID:   args[2],
		}
		if enqueueData != "" {
			if !json.Valid([]byte(enqueueData)) {
				return fmt.Errorf("--data is not valid JSON")
			}
			in.Data = json.RawMessage(enqueueData)
		}
		if err := in.Validate(); err != nil {
			return err
		}

		return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
			c.engine.Restore(ctx)

			id, err := c.engine.QueueOperation(ctx, in)
			if err != nil && !errors.Is(err, queue.ErrNotPersisted) {
				return err
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			fmt.Println(id)

			if enqueueSync {
				return printJSON(c.engine.TriggerSync(ctx, false))
			}
			return nil
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:     "pending",
	GroupID: "queue",
	Short:   "List queued operations, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
			c.engine.Restore(ctx)
			return printJSON(c.engine.PendingOperations())
		})
	},
}

var clearYes bool

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "queue",
	Short:   "Drop every queued operation without syncing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearYes {
			return fmt.Errorf("refusing to drop queued operations without --yes")
		}
		return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
			c.engine.Restore(ctx)
			n := len(c.engine.PendingOperations())
			if err := c.engine.ClearPendingOperations(ctx); err != nil {
				return err
			}
			fmt.Printf("dropped %d operations\n", n)
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:     "show <entity-type> <entity-id>",
	GroupID: "sync",
	Short:   "Print the local copy of an entity pulled from the server",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
			e, err := c.applier.Load(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if e == nil {
				return fmt.Errorf("%s %s not found locally", args[0], args[1])
			}
			return printJSON(e)
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runBackground, "background", false, "Run only the background job")
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "Run even if another cycle is in progress")
	enqueueCmd.Flags().StringVar(&enqueueData, "data", "", "JSON payload")
	enqueueCmd.Flags().BoolVar(&enqueueSync, "sync", false, "Run a sync cycle after queueing")
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "Confirm dropping the queue")
}
