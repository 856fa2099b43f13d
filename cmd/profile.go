package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/visit-scheduler/internal/config"
	"github.com/example/visit-scheduler/internal/crypto"
	"github.com/example/visit-scheduler/internal/db"
	"github.com/example/visit-scheduler/internal/domain/identity"
	"github.com/example/visit-scheduler/internal/migrate"
	"github.com/example/visit-scheduler/internal/profiles"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage patient profiles and their portal credentials",
	}
	cmd.AddCommand(newProfileAddCmd())
	cmd.AddCommand(newProfileListCmd())
	return cmd
}

func withProfileStore(fn func(ctx context.Context, store *profiles.Store) error) error {
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
	aead, err := crypto.New(cfg.CredEncKey)
	if err != nil {
		return err
	}
	return fn(ctx, profiles.NewStore(d, aead))
}

func newProfileAddCmd() *cobra.Command {
	var owner, name, username, password string
	var child bool

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a profile with its portal login",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfileStore(func(ctx context.Context, store *profiles.Store) error {
				id, err := identity.New(owner, name)
				if err != nil {
					return err
				}
				if err := store.Add(ctx, id, username, password, child); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "stored profile %s\n", id)
				return nil
			})
		},
	}

	c.Flags().StringVar(&owner, "owner", "", "owner name")
	c.Flags().StringVar(&name, "name", "", "profile name")
	c.Flags().StringVar(&username, "username", "", "portal login")
	c.Flags().StringVar(&password, "password", "", "portal password")
	c.Flags().BoolVar(&child, "child", false, "profile is a child account on the parent login")
	_ = c.MarkFlagRequired("owner")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}

func newProfileListCmd() *cobra.Command {
	var owner string

	c := &cobra.Command{
		Use:   "list",
		Short: "List an owner's profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfileStore(func(ctx context.Context, store *profiles.Store) error {
				list, err := store.List(ctx, owner)
				if err != nil {
					return err
				}
				for _, p := range list {
					fmt.Fprintf(os.Stdout, "%s::%s child=%v updated=%s\n",
						p.Owner, p.Name, p.ChildAccount, p.UpdatedAt.Format("2006-01-02 15:04"))
				}
				return nil
			})
		},
	}

	c.Flags().StringVar(&owner, "owner", "", "owner name")
	_ = c.MarkFlagRequired("owner")
	return c
}
