package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/constellation/internal/observability"
	"github.com/hrygo/constellation/internal/profile"
	"github.com/hrygo/constellation/internal/version"
	"github.com/hrygo/constellation/server"
	"github.com/hrygo/constellation/store"
	"github.com/hrygo/constellation/store/db"
)

const (
	greetingBanner = `constellation - social graph analysis service`
)

var rootCmd = &cobra.Command{
	Use:   "constellation",
	Short: "Social graph analysis service",
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile := &profile.Profile{
			Mode:   viper.GetString("mode"),
			Addr:   viper.GetString("addr"),
			Port:   viper.GetInt("port"),
			Data:   viper.GetString("data"),
			Driver: viper.GetString("driver"),
			DSN:    viper.GetString("dsn"),
		}
		// Provider and pipeline tuning comes from the environment only.
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			return errors.Wrap(err, "invalid configuration")
		}
		instanceProfile.Version = version.GetCurrentVersion(instanceProfile.Mode)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		logger := observability.NewLogger(instanceProfile.Mode)

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			return errors.Wrap(err, "failed to create database driver")
		}
		st := store.New(dbDriver, instanceProfile)

		s, err := server.NewServer(ctx, instanceProfile, st, logger)
		if err != nil {
			return errors.Wrap(err, "failed to create server")
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigs
			cancel()
			s.Shutdown(context.Background())
		}()

		fmt.Println(greetingBanner)
		if err := s.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "failed to start server")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 8230, "port of the server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver, "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "database source name")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("constellation")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
