package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

// newRootCmd builds the command tree. The returned config is filled in by
// PersistentPreRunE before any subcommand runs.
func newRootCmd() (*cobra.Command, *config.Config) {
	var cfgFile string
	cfg := config.NewDefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "formpilot",
		Short: "formpilot fills framework-managed web forms from YAML form definitions.",
		// Version is set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}
			loaded, err := config.NewConfigFromViper(v)
			if err != nil {
				// Keep errors visible even though the configured logger never came up.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "formpilot"})
				return err
			}
			*cfg = *loaded

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting formpilot", zap.String("version", Version))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./formpilot.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newFillCmd(cfg, sessionFactory),
		newDryRunCmd(cfg),
		newValidateCmd(),
		newVersionCmd(),
	)
	return rootCmd, cfg
}

// Execute runs the command tree under ctx, which main makes signal-aware.
func Execute(ctx context.Context, args []string) error {
	rootCmd, _ := newRootCmd()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// initializeConfig reads the config file, if any. A missing default file is
// fine; a missing explicit file is not.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to expand config path: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("formpilot")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}
