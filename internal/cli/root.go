package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/evidencegate/internal/llm"
	"github.com/ppiankov/evidencegate/internal/logging"
	"github.com/ppiankov/evidencegate/internal/model"
)

// version is overridden at build time with -ldflags "-X .../internal/cli.version=..."
var version = "v0.1.0"

const envPrefix = "EVIDENCEGATE"

var (
	cfgFile    string
	policyFile string
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "evidencegate",
	Short: "evidencegate - evidence-gated publication pipeline",
	Long: `evidencegate decides whether an analytical claim may be published.

Every claim passes through a five-role evidence tribunal (analyst, skeptic,
methodologist, citation auditor, judge). Publication is refused unless the
verdict is publishable and the latest reliability evaluation is recent and
passing. Every decision, including admin overrides, lands in an append-only
audit log.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := viper.GetString("log.level")
		if verbose {
			level = "debug"
		}
		logging.Init(logging.ParseLevel(level), viper.GetString("log.format"), os.Stderr)
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "evidencegate %s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.evidencegate/config.yaml)")
	flags.StringVar(&policyFile, "policy-file", "", "YAML file overriding the policy tables")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("store", "memory", "store driver (memory, postgres)")
	flags.String("dsn", "", "postgres connection string")
	flags.String("llm-provider", "", "inference provider ("+strings.Join(llm.SupportedProviders(), ", ")+"); empty or none disables inference")
	flags.String("llm-model", "", "inference model name")

	// Bind flags to viper keys
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("store.driver", flags.Lookup("store"))
	_ = viper.BindPFlag("store.dsn", flags.Lookup("dsn"))
	_ = viper.BindPFlag("llm.provider", flags.Lookup("llm-provider"))
	_ = viper.BindPFlag("llm.model", flags.Lookup("llm-model"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	setDefaults(viper.GetViper(), model.DefaultConfig())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".evidencegate"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// EVIDENCEGATE_STORE_DSN sets store.dsn
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setDefaults registers every default key so environment variables can override
// keys that the config file does not mention
func setDefaults(v *viper.Viper, defaults model.Config) {
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	setTree(v, "", tree)
}

func setTree(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		// policy tables are set whole; their maps are data, not config keys
		if sub, ok := val.(map[string]any); ok && key != "policy" {
			setTree(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// loadConfig resolves the effective configuration: flags > env > file > defaults
func loadConfig() (model.Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.Policy = cfg.Policy.Normalize().Merge(model.DefaultPolicyTables())
	if policyFile != "" {
		tables, err := model.LoadPolicyTables(policyFile)
		if err != nil {
			return cfg, err
		}
		cfg.Policy = tables
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKeyFromEnv(cfg.LLM.Provider)
	}
	if cfg.LLM.BaseURL == "" && (strings.EqualFold(cfg.LLM.Provider, "ollama") || strings.EqualFold(cfg.LLM.Provider, "local")) {
		cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	return cfg, nil
}

// providerKeyFromEnv falls back to the vendor's conventional variable
func providerKeyFromEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "openai", "gpt":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic", "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}
