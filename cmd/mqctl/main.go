package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mohammed-shakir/mapbook-query/internal/core/config"
	"github.com/mohammed-shakir/mapbook-query/internal/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootCmd binds every flag to an MQ_* environment variable, so
// --mapbook falls back to MQ_MAPBOOK and --log-level to MQ_LOG_LEVEL.
func rootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MQ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "mqctl",
		Short:         "Query map sources described by a mapbook",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return v.BindPFlags(cmd.InheritedFlags())
		},
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().String("mapbook", "mapbook.yaml", "mapbook path")
	root.PersistentFlags().String("log-level", "warn", "log level")

	root.AddCommand(validateCmd(v))
	root.AddCommand(queryCmd(v))
	root.AddCommand(filterCmd(v))
	root.AddCommand(refreshCmd(v))
	root.AddCommand(versionCmd())
	return root
}

// loadConfig overlays flag and MQ_* values on the server environment.
func loadConfig(v *viper.Viper) config.Config {
	cfg := config.FromEnv()
	cfg.MapbookPath = v.GetString("mapbook")
	cfg.LogLevel = v.GetString("log-level")
	if p := v.GetString("projection"); p != "" {
		cfg.MapProjection = p
	}
	return cfg
}

func newLogger(cfg config.Config, errOut io.Writer) *slog.Logger {
	zl := logger.Build(logger.Config{Level: cfg.LogLevel, Console: true, Component: "mqctl"}, errOut)
	return logger.NewSlog(&zl)
}
