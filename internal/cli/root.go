// Package cli implements the approvals command-line client.
//
// Commands open the configured store directly and run engine operations as
// the actor named by --as/--role or the saved context.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/civicledger/approvald/internal/config"
	"github.com/civicledger/approvald/internal/logging"
)

// Version information (set by goreleaser)
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	cfgFile     string
	logLevel    string
	backendFlag string
	actorFlag   string
	roleFlag    string
	jsonOutput  bool
	jsonlOutput bool
	yamlOutput  bool
	noColor     bool
	quiet       bool

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "approvals",
	Short:         "Multi-party approval workflows and document lifecycle",
	Long:          "approvals manages approval workflows and documents against the configured ledger.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/approvald/config.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	flags.StringVar(&backendFlag, "backend", "", "storage backend (sqlite, dynamodb, memory)")
	flags.StringVar(&actorFlag, "as", "", "actor id to run the command as")
	flags.StringVar(&roleFlag, "role", "", "actor role (citizen, officer, chairman)")
	flags.BoolVar(&jsonOutput, "json", false, "output JSON")
	flags.BoolVar(&jsonlOutput, "jsonl", false, "output JSON lines")
	flags.BoolVar(&yamlOutput, "yaml", false, "output YAML")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress informational output")
}

func initConfig(cmd *cobra.Command) error {
	if countTrue(jsonOutput, jsonlOutput, yamlOutput) > 1 {
		return fmt.Errorf("use only one of --json, --jsonl, --yaml")
	}

	loader := config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigFile(cfgFile)
	}
	if err := loader.BindFlags(cmd.Flags(), map[string]string{
		"logging.level":   "log-level",
		"storage.backend": "backend",
	}); err != nil {
		return err
	}

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	appConfig = cfg

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cmd.ErrOrStderr(),
		EnableCaller: cfg.Logging.EnableCaller,
	})

	if cfgUsed := loader.ConfigFileUsed(); cfgUsed != "" {
		lg := logging.Component("cli")
		lg.Debug().Str("config_file", cfgUsed).Msg("loaded config file")
	}
	return nil
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

// Execute runs the root command.
func Execute() error {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
	return rootCmd.Execute()
}

// ExecuteArgs runs the root command with explicit arguments and writers.
func ExecuteArgs(args []string, out, errOut io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()
	return rootCmd.Execute()
}

// PrintError writes err in the CLI's error format.
func PrintError(w io.Writer, err error) {
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

func contextStore() *config.ContextStore {
	return config.NewContextStore(filepath.Join(GetConfig().Global.ConfigDir, "context.yaml"))
}

// IsQuiet reports whether informational output is suppressed.
func IsQuiet() bool {
	return quiet
}

func countTrue(values ...bool) int {
	n := 0
	for _, v := range values {
		if v {
			n++
		}
	}
	return n
}
