package cli

import (
	"fmt"
	"strings"

	"github.com/harun/balatrollm/pkg/strategy"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "Manage strategy bundles",
}

var strategiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List builtin and on-disk strategies",
	RunE:  runStrategiesList,
}

func init() {
	strategiesListCmd.Flags().String("strategies-dir", "", "directory of strategy bundles")
	strategiesCmd.AddCommand(strategiesListCmd)
	rootCmd.AddCommand(strategiesCmd)
}

func runStrategiesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry := strategy.NewRegistry(cfg.StrategiesDir, zerolog.Nop())
	out := cmd.OutOrStdout()
	for _, name := range registry.Names() {
		s, err := registry.Get(name)
		if err != nil {
			fmt.Fprintf(out, "%-20s (invalid: %v)\n", name, err)
			continue
		}
		m := s.Manifest
		line := fmt.Sprintf("%-20s v%-8s %s", name, m.Version, m.Description)
		if len(m.Tags) > 0 {
			line += " [" + strings.Join(m.Tags, ", ") + "]"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
