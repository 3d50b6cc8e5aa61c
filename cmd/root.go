package cmd

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/playpenhq/playpen/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playpen",
		Short: "Playpen - sandboxed game-instance factory and liveness registry",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("root-dir", "", "root data directory")
	cmd.PersistentFlags().String("run-dir", "", "runtime directory")
	cmd.PersistentFlags().String("factory-addr", "", "factory HTTP listen address")
	cmd.PersistentFlags().String("registry-addr", "", "registry HTTP listen address")
	cmd.PersistentFlags().String("registry-url", "", "registry URL as seen from inside instances")

	_ = viper.BindPFlag("root_dir", cmd.PersistentFlags().Lookup("root-dir"))
	_ = viper.BindPFlag("run_dir", cmd.PersistentFlags().Lookup("run-dir"))
	_ = viper.BindPFlag("factory_addr", cmd.PersistentFlags().Lookup("factory-addr"))
	_ = viper.BindPFlag("registry_addr", cmd.PersistentFlags().Lookup("registry-addr"))
	_ = viper.BindPFlag("registry_url", cmd.PersistentFlags().Lookup("registry-url"))

	viper.SetEnvPrefix("PLAYPEN")
	viper.AutomaticEnv()

	cmd.AddCommand(
		factoryCmd,
		registryCmd,
		psCmd,
		gcCmd,
		versionCmd,
	)

	return cmd
}()

func initConfig() error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	_ = viper.ReadInConfig() // optional; missing file is OK

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	return log.SetupLog(context.Background(), &conf.Log, "")
}

// Execute is the main entry point called from main.go.
func Execute() error {
	return rootCmd.Execute()
}
