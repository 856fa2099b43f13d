package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/visit-scheduler/internal/auth"
	"github.com/example/visit-scheduler/internal/config"
	"github.com/example/visit-scheduler/internal/db"
	"github.com/example/visit-scheduler/internal/migrate"
)

func newOwnerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage owner accounts",
	}
	cmd.AddCommand(newOwnerAddCmd())
	return cmd
}

func newOwnerAddCmd() *cobra.Command {
	var name, password string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add an owner account (name/password)",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if err := migrate.Up(ctx, d); err != nil {
				return err
			}

			store := auth.NewStore(d, cfg.SessionHashKey, cfg.SessionBlockKey)
			if err := store.CreateOwner(ctx, name, password); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created owner %q\n", name)
			return nil
		},
	}

	c.Flags().StringVar(&name, "name", "", "owner name")
	c.Flags().StringVar(&password, "password", "", "password")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("password")
	return c
}
