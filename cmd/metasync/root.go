package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/catalogops/metasync/internal/actions"
	"github.com/catalogops/metasync/internal/remote"
	"github.com/catalogops/metasync/internal/staging"
	"github.com/catalogops/metasync/internal/store"
	"github.com/catalogops/metasync/internal/view"
)

// rootCtx is cancelled on SIGINT/SIGTERM; long-running commands use it.
var rootCtx context.Context

var rootCmd = &cobra.Command{
	Use:   "metasync",
	Short: "Synchronize metadata entities between a local store and a remote catalog",
	Long: `metasync keeps tags, glossary terms, glossary nodes, domains, and
metadata tests in sync between a local SQLite store and a remote metadata
catalog.

Every view is a three-way reconciliation: entities are partitioned into
synced, local-only, and remote-only, with per-item actions to deploy local
entities, pull remote ones, resync after edits, or delete locally.

Configuration is read from .metasync.yaml (or --config), environment
variables prefixed METASYNC_, and flags, in increasing precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default .metasync.yaml)")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "remote catalog base URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the remote catalog")
	rootCmd.PersistentFlags().String("db", ".metasync/metasync.db", "local store database path")
	rootCmd.PersistentFlags().String("staging-dir", ".metasync/staged", "git staging directory for entity files")
	rootCmd.PersistentFlags().Int("page-size", 100, "remote fetch page size")
	rootCmd.PersistentFlags().Duration("page-timeout", 30*time.Second, "per-page fetch timeout")
	rootCmd.PersistentFlags().String("log-file", "", "log to a rotating file instead of stderr")

	for _, name := range []string{"server", "token", "db", "staging-dir", "page-size", "page-timeout", "log-file"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCtx = ctx
	cobra.OnFinalize(cancel)
}

// initConfig loads the config file and environment.
func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".metasync")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
	}

	viper.SetEnvPrefix("METASYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}
}

// logWriter returns the destination for command loggers: stderr by
// default, a size-rotated file when --log-file is set.
func logWriter() io.Writer {
	if path := viper.GetString("log-file"); path != "" {
		return &lumberjack.Logger{
			Filename:   path,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return os.Stderr
}

// newLogger creates a prefixed logger writing to the configured sink.
func newLogger(prefix string) *log.Logger {
	return log.New(logWriter(), prefix, log.LstdFlags)
}

// openStore opens the local store and initializes its schema.
func openStore() (*store.Store, error) {
	st, err := store.Open(viper.GetString("db"))
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// newCatalog creates the remote catalog client from config.
func newCatalog() *remote.Client {
	return remote.NewClient(&remote.Config{
		BaseURL:     viper.GetString("server"),
		Token:       viper.GetString("token"),
		PageTimeout: viper.GetDuration("page-timeout"),
		Logger:      newLogger("[fetch] "),
	})
}

// newStager creates the git stager, or nil when the staging directory is
// not inside a git repository (staging is optional).
func newStager() actions.Stager {
	stager, err := staging.New(&staging.Config{
		Dir:    viper.GetString("staging-dir"),
		Logger: newLogger("[staging] "),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: staging disabled: %v\n", err)
		return nil
	}
	return stager
}

// newService creates the view service over an opened store.
func newService(st *store.Store, catalog *remote.Client) *view.Service {
	return view.NewService(st, catalog, &view.ServiceConfig{
		PageSize: viper.GetInt("page-size"),
		Logger:   newLogger("[view] "),
	})
}

// newDispatcher creates the action dispatcher over an opened store.
func newDispatcher(st *store.Store, catalog *remote.Client) actions.Dispatcher {
	return actions.New(st, catalog, newStager(), newLogger("[actions] "))
}
