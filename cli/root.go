/*
Package cli implements the powledger command line: running a node, generating a node
identifier and talking to a running node.
*/
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"powledger/logger"
)

const (
	envPrefix = "POWLEDGER"

	defaultHomeDir    = ".powledger"
	defaultConfigFile = "config.yaml"

	keyHome         = "home"
	keyConfig       = "config"
	keyLoggerConfig = "logger-config"
	keyLogLevel     = "log-level"
	keyLogFormat    = "log-format"
)

type (
	powledgerApp struct {
		baseCmd    *cobra.Command
		baseConfig *baseConfiguration
	}

	baseConfiguration struct {
		// HomeDir is the root directory of configuration files.
		HomeDir string
		// CfgFile is the configuration file, relative to HomeDir unless absolute.
		CfgFile string
		// LoggerCfgFile is the optional YAML file of the logger.
		LoggerCfgFile string
		LogLevel      string
		LogFormat     string

		log zerolog.Logger
	}
)

// New creates a new powledger application
func New() *powledgerApp {
	baseCmd, baseConfig := newBaseCmd()
	return &powledgerApp{baseCmd: baseCmd, baseConfig: baseConfig}
}

// Execute adds all child commands and runs the application
func (a *powledgerApp) Execute(ctx context.Context) error {
	return a.addAndExecuteCommand(ctx)
}

func (a *powledgerApp) addAndExecuteCommand(ctx context.Context) error {
	a.baseCmd.AddCommand(newRunCmd(a.baseConfig))
	a.baseCmd.AddCommand(newIdentifierCmd())
	a.baseCmd.AddCommand(newClientCmd())
	return a.baseCmd.ExecuteContext(ctx)
}

func newBaseCmd() (*cobra.Command, *baseConfiguration) {
	config := &baseConfiguration{}
	var baseCmd = &cobra.Command{
		Use:           "powledger",
		Short:         "The powledger CLI",
		Long:          `powledger runs a proof-of-work ledger node and talks to running nodes.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(cmd, config); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			return nil
		},
	}
	config.addConfigurationFlags(baseCmd)
	return baseCmd, config
}

func (c *baseConfiguration) addConfigurationFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&c.HomeDir, keyHome, "", fmt.Sprintf("set the home directory (default $HOME/%s)", defaultHomeDir))
	cmd.PersistentFlags().StringVarP(&c.CfgFile, keyConfig, "c", "", fmt.Sprintf("config file location (default $%s_HOME/%s)", envPrefix, defaultConfigFile))
	cmd.PersistentFlags().StringVar(&c.LoggerCfgFile, keyLoggerConfig, "", "logger configuration file (YAML)")
	cmd.PersistentFlags().StringVar(&c.LogLevel, keyLogLevel, "", "log level: trace, debug, info, warn, error or none")
	cmd.PersistentFlags().StringVar(&c.LogFormat, keyLogFormat, "", "log format: console or json")
}

func initializeConfig(cmd *cobra.Command, config *baseConfiguration) error {
	var errs []error
	if err := config.initializeConfig(cmd); err != nil {
		errs = append(errs, fmt.Errorf("reading configuration: %w", err))
	}
	if err := config.initLogger(); err != nil {
		errs = append(errs, fmt.Errorf("initializing logger: %w", err))
	}
	return errors.Join(errs...)
}

// initializeConfig reads in config file and ENV variables if set.
func (c *baseConfiguration) initializeConfig(cmd *cobra.Command) error {
	v := viper.New()

	c.initConfigFileLocation()
	if c.configFileExists() {
		v.SetConfigFile(c.CfgFile)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	// flag --fetch-timeout binds to environment variable POWLEDGER_FETCH_TIMEOUT
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := bindFlags(cmd, v); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

func (c *baseConfiguration) initConfigFileLocation() {
	if c.HomeDir == "" {
		if home := os.Getenv(envPrefix + "_HOME"); home != "" {
			c.HomeDir = home
		} else if userHome, err := os.UserHomeDir(); err == nil {
			c.HomeDir = filepath.Join(userHome, defaultHomeDir)
		}
	}
	if c.CfgFile == "" {
		c.CfgFile = defaultConfigFile
	}
	if !filepath.IsAbs(c.CfgFile) {
		c.CfgFile = filepath.Join(c.HomeDir, c.CfgFile)
	}
}

func (c *baseConfiguration) configFileExists() bool {
	_, err := os.Stat(c.CfgFile)
	return err == nil
}

func (c *baseConfiguration) initLogger() error {
	cfg := logger.DefaultConfig()
	if c.LoggerCfgFile != "" {
		fn := c.LoggerCfgFile
		if !filepath.IsAbs(fn) {
			fn = filepath.Join(c.HomeDir, fn)
		}
		var err error
		if cfg, err = logger.LoadConfig(fn); err != nil {
			return err
		}
	}
	// command line overrides the logger config file
	if c.LogLevel != "" {
		cfg.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Format = c.LogFormat
	}

	log, err := logger.New(cfg)
	if err != nil {
		return err
	}
	c.log = log
	return nil
}

// Bind each cobra flag to its associated viper configuration (config file and environment variable)
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var bindFlagErr []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == keyHome || f.Name == keyConfig {
			// "home" and "config" are special configuration values, handled separately.
			return
		}

		// Environment variables can't have dashes in them, so bind them to their equivalent
		// keys with underscores, e.g. --log-level to POWLEDGER_LOG_LEVEL
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name, fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				bindFlagErr = append(bindFlagErr, fmt.Errorf("binding env to flag %q: %w", f.Name, err))
				return
			}
		}

		// Apply the viper config value to the flag when the flag is not set and viper has a value
		if !f.Changed && v.IsSet(f.Name) {
			if err := setFlagValue(cmd.Flags(), f, v.Get(f.Name)); err != nil {
				bindFlagErr = append(bindFlagErr, fmt.Errorf("setting flag %q value: %w", f.Name, err))
				return
			}
		}
	})
	return errors.Join(bindFlagErr...)
}

// setFlagValue handles list values of the config file, a slice flag takes a comma
// separated list.
func setFlagValue(fs *pflag.FlagSet, f *pflag.Flag, val any) error {
	if list, ok := val.([]any); ok {
		items := make([]string, len(list))
		for i, item := range list {
			items[i] = fmt.Sprintf("%v", item)
		}
		return fs.Set(f.Name, strings.Join(items, ","))
	}
	return fs.Set(f.Name, fmt.Sprintf("%v", val))
}
