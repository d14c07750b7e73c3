package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wippyai/script-runtime/runtime"
)

var (
	cfgFile     string
	evalSrc     string
	interactive bool
	allocLimit  int64
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "scriptrun [file]",
	Short: "Run scripts in a sandboxed interpreter instance",
	Long: `scriptrun executes script files inside an isolated interpreter instance.
Host resources are exposed only through registered callbacks, script errors
come back as ordinary error values, and an optional allocation budget caps
how much memory a script may request.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if interactive {
			return runInteractive()
		}
		if evalSrc != "" {
			return runSource(evalSrc, "eval")
		}
		if len(args) == 0 {
			return cmd.Help()
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		return runSource(string(data), filepath.Base(args[0]))
	},
	SilenceUsage: true,
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive()
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(replCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.scriptrun/config)")
	rootCmd.PersistentFlags().Int64Var(&allocLimit, "alloc-limit", 0, "script allocation budget in bytes (0 = unlimited)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "enable runtime logging at this level (debug, info, warn, error)")
	rootCmd.Flags().StringVarP(&evalSrc, "eval", "e", "", "evaluate source from the command line")
	rootCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "interactive mode with TUI")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".scriptrun"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SCRIPTRUN")
	viper.AutomaticEnv()
	viper.BindEnv("alloc_limit", "SCRIPTRUN_ALLOC_LIMIT")
	viper.BindEnv("log_level", "SCRIPTRUN_LOG_LEVEL")

	if err := viper.ReadInConfig(); err == nil {
		if allocLimit == 0 && viper.GetInt64("alloc_limit") != 0 {
			allocLimit = viper.GetInt64("alloc_limit")
		}
		if logLevel == "" && viper.GetString("log_level") != "" {
			logLevel = viper.GetString("log_level")
		}
	}
}

// buildLogger returns a no-op logger unless a level was configured.
func buildLogger() (*zap.Logger, error) {
	if logLevel == "" {
		return zap.NewNop(), nil
	}
	lvl, err := zap.ParseAtomicLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", logLevel, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	return cfg.Build()
}

func instanceOptions(log *zap.Logger) []runtime.Option {
	opts := []runtime.Option{runtime.WithLogger(log)}
	if allocLimit > 0 {
		opts = append(opts, runtime.WithAllocLimit(allocLimit))
	}
	return opts
}

func runSource(src, name string) error {
	log, err := buildLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	in, err := runtime.New(instanceOptions(log)...)
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	defer in.Close()
	in.State().SetOutput(os.Stdout)

	return in.Run(src, name)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
