// Package app is the command line interface of supplierctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	compliance "github.com/iam-ankon/TADREACT-sub005"
	"github.com/iam-ankon/TADREACT-sub005/client"
	"github.com/iam-ankon/TADREACT-sub005/client/stores/fs"
	"github.com/iam-ankon/TADREACT-sub005/client/stores/sqlite"
	"github.com/iam-ankon/TADREACT-sub005/expiry"
)

// cmdName is the binary name, also used for config and state file names
const cmdName = "supplierctl"

// Version is set at build time
var Version = "Dev"

// Store backends
const (
	storeFS     = "fs"
	storeSQLite = "sqlite"
)

// App encapsulates commands and options of supplierctl, which can be
// controlled by flags, env variables and config files.
type App struct {
	rootCmd cobra.Command
	viper   *viper.Viper
	config  appConfig

	ctx    context.Context
	cancel context.CancelFunc

	clock clockwork.Clock
}

type appConfig struct {
	Verbosity int
	BaseURL   string        `mapstructure:"base_url"`
	Store     string        `mapstructure:"store"`
	StorePath string        `mapstructure:"store_path"`
	Timeout   time.Duration `mapstructure:"timeout"`
	LoginPath string        `mapstructure:"login_path"`

	// DocumentPath is an HTML page whose csrf-token meta tag seeds the
	// CSRF token, like the page a browser client would be loaded from.
	DocumentPath string `mapstructure:"document_path"`
}

// New registers commands and returns a new App.
func New() *App {
	a := App{clock: clockwork.NewRealClock()}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.rootCmd = cobra.Command{
		Use:   fmt.Sprintf("%s COMMAND", cmdName),
		Short: "Supplier compliance client",
		Long:  "supplierctl manages supplier records, their certificate validity dates and attachments.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Force a visit of the local flags so persistent flags for all parents are merged.
			cmd.LocalFlags()

			// command parsing has been successful. Returns to not print usage anymore.
			a.rootCmd.SilenceUsage = true

			if err := initViperConfig(cmdName, &a.rootCmd, a.viper); err != nil {
				return err
			}

			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to decode configuration into struct: %w", err)
			}

			setVerboseMode(a.config.Verbosity, a.rootCmd.ErrOrStderr())
			slog.Debug("Debug mode is enabled")

			return nil
		},
		// We display usage error ourselves
		SilenceErrors: true,
	}
	a.viper = viper.New()
	a.viper.SetDefault("base_url", client.DefaultBaseURL)
	a.viper.SetDefault("store", storeFS)
	a.viper.SetDefault("timeout", client.DefaultTimeout)
	a.viper.SetDefault("login_path", client.DefaultLoginPath)

	installVerbosityFlag(&a.rootCmd, a.viper)
	installConfigFlag(&a.rootCmd)
	installBackendFlags(&a.rootCmd, a.viper)

	// subcommands
	a.installSession()
	a.installSuppliers()
	a.installWatch()
	a.installDevServer()
	a.installVersion()

	return &a
}

// Run executes the command and associated process. It returns an error on syntax/usage error.
func (a *App) Run() error {
	return a.rootCmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.rootCmd.SilenceUsage
}

// Quit cancels any running command.
func (a *App) Quit() {
	a.cancel()
}

// SetArgs changes the root command args. Shouldn't be in general necessary apart for tests.
func (a *App) SetArgs(args ...string) {
	a.rootCmd.SetArgs(args)
}

// SetIO redirects the command input and output. Shouldn't be in general necessary apart for tests.
func (a *App) SetIO(in io.Reader, out, errOut io.Writer) {
	a.rootCmd.SetIn(in)
	a.rootCmd.SetOut(out)
	a.rootCmd.SetErr(errOut)
}

// Config returns the parsed configuration for test purposes.
//
//nolint:revive
func (a App) Config() appConfig {
	return a.config
}

// openStore opens the configured token store, scoped to the backend origin
func (a *App) openStore() (client.KeyValueStore, io.Closer, error) {
	switch a.config.Store {
	case storeFS, "":
		s, err := fs.NewFSStore(a.config.StorePath, cmdName)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open store: %w", err)
		}
		kv, err := s.ForOrigin(a.config.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		return kv, noClose{}, nil

	case storeSQLite:
		path := a.config.StorePath
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return nil, nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			path = filepath.Join(dir, cmdName, "state.db")
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return nil, nil, fmt.Errorf("could not create store directory: %w", err)
			}
		}
		s, err := sqlite.NewStore(path)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open store: %w", err)
		}
		kv, err := s.ForOrigin(a.config.BaseURL)
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		return kv, s, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q, want %s or %s", a.config.Store, storeFS, storeSQLite)
}

type noClose struct{}

func (noClose) Close() error { return nil }

// session is what every backend command works with
type session struct {
	gw     *client.Gateway
	svc    *compliance.Service
	closer io.Closer
}

func (s *session) Close() error {
	return s.closer.Close()
}

// openSession builds a gateway over the configured store
func (a *App) openSession(cmd *cobra.Command) (*session, error) {
	kv, closer, err := a.openStore()
	if err != nil {
		return nil, err
	}

	gw, err := client.NewGateway(a.config.BaseURL,
		client.WithStore(kv),
		client.WithTimeout(a.config.Timeout),
		client.WithLoginPath(a.config.LoginPath),
		client.WithNavigator(consoleNavigator{out: cmd.ErrOrStderr()}),
		client.WithLogger(slog.Default()),
	)
	if err != nil {
		closer.Close()
		return nil, err
	}
	if a.config.DocumentPath != "" {
		if err := gw.LoadDocument(a.ctx, a.config.DocumentPath); err != nil {
			slog.Warn("could not load document for CSRF meta tag", "path", a.config.DocumentPath, "err", err)
		}
	}
	return &session{gw: gw, svc: compliance.NewService(gw), closer: closer}, nil
}

// formOptions configures the expiry forms of editors
func (a *App) formOptions() []expiry.FormOption {
	return []expiry.FormOption{expiry.WithClock(a.clock), expiry.WithFormLogger(slog.Default())}
}

// consoleNavigator tells the user to log in again instead of redirecting
type consoleNavigator struct {
	out io.Writer
}

func (n consoleNavigator) Navigate(path string) {
	fmt.Fprintf(n.out, "Session is not authenticated (%s). Run %q first.\n", path, cmdName+" login")
}

// ignoreCanceled turns a cancellation by Quit into a clean exit
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
