package app

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *App) installSession() {
	var username, password string
	login := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store the auth token",
		Long:  "Authenticate against the backend. The password is read from stdin when --password is not given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("could not read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if username == "" || password == "" {
				return errors.New("username and password are required")
			}

			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.gw.Login(a.ctx, username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s as %s\n", s.gw.BaseURL(), username)
			return nil
		},
	}
	login.Flags().StringVarP(&username, "username", "u", "", "account username")
	login.Flags().StringVarP(&password, "password", "p", "", "account password")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored auth token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.gw.Logout(a.ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}

	var refresh bool
	csrf := &cobra.Command{
		Use:   "csrf",
		Short: "Print the CSRF token the client would send",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			token := s.gw.CSRFToken()
			if token == "" || refresh {
				token = s.gw.FetchCSRFToken(a.ctx, refresh)
			}
			if token == "" {
				return errors.New("no CSRF token available")
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	csrf.Flags().BoolVar(&refresh, "refresh", false, "fetch a new token from the backend")

	a.rootCmd.AddCommand(login, logout, csrf)
}
