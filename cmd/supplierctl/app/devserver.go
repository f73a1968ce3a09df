package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/iam-ankon/TADREACT-sub005/devserver"
)

func (a *App) installDevServer() {
	var addr, username, password string
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve an in-memory backend for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := devserver.New()
			srv.Logger = slog.Default()
			if err := srv.AddUser(username, password); err != nil {
				return fmt.Errorf("could not create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s, log in as %s\n", addr, username)
			return srv.ListenAndServe(a.ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8000", "listen address")
	cmd.Flags().StringVarP(&username, "username", "u", "admin", "username to create")
	cmd.Flags().StringVarP(&password, "password", "p", "admin", "password for the user")
	a.rootCmd.AddCommand(cmd)
}
