package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/visit-scheduler/internal/config"
	"github.com/example/visit-scheduler/internal/db"
	"github.com/example/visit-scheduler/internal/domain/identity"
	"github.com/example/visit-scheduler/internal/tasks"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and stop search tasks",
	}
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskStopCmd())
	return cmd
}

func withTaskStore(fn func(ctx context.Context, store *tasks.PostgresStore) error) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	ctx := context.Background()
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(ctx, tasks.NewPostgresStore(d))
}

func newTaskListCmd() *cobra.Command {
	var owner string

	c := &cobra.Command{
		Use:   "list",
		Short: "List tasks (all, or one owner's)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskStore(func(ctx context.Context, store *tasks.PostgresStore) error {
				var states []tasks.State
				var err error
				if owner == "" {
					states, err = store.List(ctx)
				} else {
					states, err = store.ListOwner(ctx, owner)
				}
				if err != nil {
					return err
				}
				for _, st := range states {
					status := "stopped"
					if st.Active {
						status = "active"
					}
					fmt.Fprintf(os.Stdout, "%-40s %-8s %-9s runs=%-4d found=%-3d next=%s\n",
						st.TaskID(), st.Config.Strategy, status, st.RunsCount, st.LastFound,
						st.NextRun.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	c.Flags().StringVar(&owner, "owner", "", "restrict to one owner")
	return c
}

// Stopping here writes the inactive state to the store; the server's
// reconciliation loop drops the live registration within one period.
func newTaskStopCmd() *cobra.Command {
	var owner, profile string

	c := &cobra.Command{
		Use:   "stop",
		Short: "Stop a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskStore(func(ctx context.Context, store *tasks.PostgresStore) error {
				id, err := identity.New(owner, profile)
				if err != nil {
					return err
				}
				st, ok, err := store.Get(ctx, id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no task for %s", id)
				}
				st.Active = false
				st.StopReason = "stopped"
				st.StoppedAt = time.Now()
				st.UpdatedAt = st.StoppedAt
				if err := store.Put(ctx, st); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "stopped task %s\n", id)
				return nil
			})
		},
	}

	c.Flags().StringVar(&owner, "owner", "", "owner name")
	c.Flags().StringVar(&profile, "profile", "", "profile name")
	_ = c.MarkFlagRequired("owner")
	_ = c.MarkFlagRequired("profile")
	return c
}
