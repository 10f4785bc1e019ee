package cli

import (
	"fmt"
	"io"

	"github.com/harun/balatrollm/pkg/task"
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Print the task list without running it",
	Long:  `Print every task the configured parameters expand to, in execution order.`,
	RunE:  runTasks,
}

func init() {
	addRunFlags(tasksCmd.Flags())
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(false); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	printTasks(cmd.OutOrStdout(), cfg.Tasks())
	return nil
}

func printTasks(w io.Writer, tasks []task.Task) {
	fmt.Fprintf(w, "%d tasks\n", len(tasks))
	for i, t := range tasks {
		fmt.Fprintf(w, "[%d/%d] %s\n", i+1, len(tasks), t)
	}
}
