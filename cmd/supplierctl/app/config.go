package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ubuntu/decorate"
)

func initViperConfig(name string, cmd *cobra.Command, vip *viper.Viper) (err error) {
	defer decorate.OnError(&err, "can't load configuration")

	// Use command-line flag for verbosity until configuration is parsed
	v, err := cmd.Flags().GetCount("verbosity")
	if err != nil {
		return fmt.Errorf("internal error: no persistent verbosity flags installed on cmd: %w", err)
	}
	setVerboseMode(v, cmd.ErrOrStderr())

	// Find a valid configuration file
	if v, err := cmd.Flags().GetString("config"); err == nil && v != "" {
		vip.SetConfigFile(v)
	} else {
		vip.SetConfigName(name)
		vip.AddConfigPath("./")
		vip.AddConfigPath("$HOME/")
		if dir, err := os.UserConfigDir(); err == nil {
			vip.AddConfigPath(filepath.Join(dir, name))
		}
		vip.AddConfigPath("/etc/")
	}

	// Load the config
	if err := vip.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if errors.As(err, &e) {
			slog.Info("No configuration file", "err", e)
		} else {
			return fmt.Errorf("invalid configuration file: %v", err)
		}
	} else {
		slog.Info("Using configuration file", "path", vip.ConfigFileUsed())
	}

	// Parse environment variables
	vip.SetEnvPrefix("SUPPLIERCTL")
	vip.AutomaticEnv()

	return nil
}

// installVerbosityFlag adds the -v and -vv options and returns the reference to it.
func installVerbosityFlag(cmd *cobra.Command, vip *viper.Viper) *int {
	r := cmd.PersistentFlags().CountP("verbosity", "v", "issue INFO (-v), DEBUG (-vv) or DEBUG with source (-vvv) output")
	if err := vip.BindPFlag("verbosity", cmd.PersistentFlags().Lookup("verbosity")); err != nil {
		slog.Warn(err.Error())
	}
	return r
}

// installConfigFlag adds the --config flag to allow for custom config paths.
func installConfigFlag(cmd *cobra.Command) *string {
	return cmd.PersistentFlags().StringP("config", "c", "", "configuration file path")
}

// installBackendFlags adds the flags selecting the backend and the token store.
func installBackendFlags(cmd *cobra.Command, vip *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.String("base-url", "", "backend base URL (default "+`"http://localhost:8000"`+")")
	flags.String("store", "", "token store backend: fs or sqlite (default \"fs\")")
	flags.String("store-path", "", "token store location (default in the user config directory)")
	flags.Duration("timeout", 0, "per request timeout (default 30s)")
	flags.String("document-path", "", "HTML page to read the csrf-token meta tag from")

	for key, flag := range map[string]string{
		"base_url":      "base-url",
		"store":         "store",
		"store_path":    "store-path",
		"timeout":       "timeout",
		"document_path": "document-path",
	} {
		if err := vip.BindPFlag(key, flags.Lookup(flag)); err != nil {
			slog.Warn(err.Error())
		}
	}
}

// setVerboseMode changes the default logger between very, middly and non verbose.
func setVerboseMode(level int, w io.Writer) {
	opts := &slog.HandlerOptions{}
	switch level {
	case 0:
		opts.Level = slog.LevelWarn
	case 1:
		opts.Level = slog.LevelInfo
	case 3:
		opts.AddSource = true
		fallthrough
	default:
		opts.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
}
