package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/signalnine/trialmatrix/internal/config"
	"github.com/signalnine/trialmatrix/internal/logging"
)

// NewRootCmd builds the CLI. Every flag can also be set through a
// TRIALMATRIX_ environment variable, e.g. TRIALMATRIX_TEST_ID.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TRIALMATRIX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:          "trialmatrix",
		Short:        "Run evaluation matrices of tiers x models in sandboxed containers",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.String("config", "trialmatrix.yaml", "config file path")
	pf.String("log-level", "", "override logging.level (debug, info, warn, error)")
	pf.String("log-mode", "", "override logging.mode (development, production)")
	mustBind(v.BindPFlags(pf))

	root.AddCommand(newRunCmd(v))
	root.AddCommand(newListCmd(v))
	root.AddCommand(newStatusCmd(v))
	return root
}

// mustBind panics when flags cannot be bound to viper; that is a
// programming error in command construction.
func mustBind(err error) {
	if err != nil {
		panic(fmt.Sprintf("binding flags: %v", err))
	}
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	path := v.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if f := cfg.Pricing.File; f != "" && !filepath.IsAbs(f) {
		cfg.Pricing.File = filepath.Join(filepath.Dir(path), f)
	}
	return cfg, nil
}

func newLogger(v *viper.Viper, cfg *config.Config) (*zap.Logger, error) {
	lc := logging.Config{
		Mode:  cfg.Logging.Mode,
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
	}
	if s := v.GetString("log-level"); s != "" {
		lc.Level = s
	}
	if s := v.GetString("log-mode"); s != "" {
		lc.Mode = s
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger, nil
}
