package cli

import (
	"github.com/harun/balatrollm/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
	dryRun   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "balatrollm",
	Short: "BalatroLLM - LLM-driven Balatro runs",
	Long: `BalatroLLM plays Balatro runs with a language model choosing every action.
It expands models, seeds, decks, stakes and strategies into tasks and runs
them in parallel against a pool of game instances, one run per instance.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRun,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	addRunFlags(rootCmd.Flags())

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// addRunFlags registers the task and execution flags. Flag names map to
// config keys with dashes replaced by underscores.
func addRunFlags(fs *pflag.FlagSet) {
	fs.StringSlice("model", nil, "models in vendor/model format")
	fs.StringSlice("seed", nil, "game seeds")
	fs.StringSlice("deck", nil, "decks (RED, BLUE, ...)")
	fs.StringSlice("stake", nil, "stakes (WHITE, RED, ...)")
	fs.StringSlice("strategy", nil, "strategy names")
	fs.Int("parallel", 0, "number of game instances and workers")
	fs.String("host", "", "game instance host")
	fs.Int("port", 0, "port of the first game instance")
	fs.Int("port-stride", 0, "port distance between instances")
	fs.String("provider", "", "decision endpoint kind (openai, anthropic)")
	fs.String("base-url", "", "decision endpoint base URL")
	fs.String("api-key", "", "decision endpoint API key")
	fs.String("output-dir", "", "directory for run artifacts")
	fs.String("strategies-dir", "", "directory of strategy bundles")
	fs.String("instance-command", "", "command that launches one game instance")
	fs.Bool("metrics", false, "serve /metrics and /healthz")
	fs.BoolVar(&dryRun, "dry-run", false, "print the task list and exit")
}

// loadConfig builds the effective config for cmd: defaults, environment,
// --config file and then the flags set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader(cfgFile)
	fs := cmd.Flags()
	loader.BindFlags(fs)
	loader.BindFlag("logging.level", fs.Lookup("log-level"))
	loader.BindFlag("instance.command", fs.Lookup("instance-command"))
	loader.BindFlag("metrics.enabled", fs.Lookup("metrics"))
	return loader.Load()
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
