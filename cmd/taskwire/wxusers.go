package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/taskwire/internal/errors"
	"github.com/vango-dev/taskwire/pkg/service"
)

func (a *app) wxusersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wxusers",
		Aliases: []string{"users"},
		Short:   "List and register WeChat user names",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered user names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}
			names, err := service.NewWxUsers(c, a.log).List(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(a.stdout, name)
			}
			a.info("%d user(s)", len(names))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Register a user name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return errors.New("TW400").WithDetail("user name cannot be blank")
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}
			if err := service.NewWxUsers(c, a.log).Add(ctx, name); err != nil {
				return err
			}
			a.success("Added user %q", name)
			return nil
		},
	})
	return cmd
}
