package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maxabba/Ota-mqtt-http/pkg/hostconfig"
)

var configPath string

// rootCmd mirrors apache-mynewt-newt's newt.go: a bare parent command
// plus subcommands, flags bound with cobra/pflag rather than the
// standard library's flag package.
var rootCmd = &cobra.Command{
	Use:   "otaagentd",
	Short: "Runs the OTA update agent core against a live MQTT broker and HTTP(S) origin",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadCfgAndLogger()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			logger.Info("shutdown signal received")
			cancel()
		}()

		return runAgent(ctx, cfg, logger)
	},
}

var serviceCmd = &cobra.Command{
	Use:   "service <install|uninstall|start|stop>",
	Short: "Manage otaagentd as a platform service via kardianos/service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadCfgAndLogger()
		if err != nil {
			return err
		}
		prg := newProgram(cfg, logger)
		svc, err := service.New(prg, serviceConfig())
		if err != nil {
			return fmt.Errorf("create service: %w", err)
		}
		return service.Control(svc, args[0])
	},
}

func loadCfgAndLogger() (hostconfig.HostConfig, *logrus.Entry, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(logger)

	cfg, err := hostconfig.Load(configPath)
	if err != nil {
		return cfg, entry, fmt.Errorf("load config: %w", err)
	}
	return cfg, entry, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "otaagentd.toml", "path to the host config file")
	rootCmd.AddCommand(runCmd, serviceCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
