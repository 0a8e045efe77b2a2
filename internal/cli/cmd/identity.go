package cmd

import (
	"fmt"

	"impulse/internal/task"

	"github.com/spf13/cobra"
)

// NewIdentityCommand prints the job name a start event would produce.
func NewIdentityCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print the job identity and container name for a task",
		RunE:  runIdentity,
	}

	cmd.Flags().StringP("pipeline", "p", "", "Pipeline name (required)")
	cmd.Flags().StringP("job", "j", "", "Job name (required)")
	cmd.Flags().StringP("task", "t", "", "Task name (required)")
	cmd.Flags().StringP("build", "b", "", "Build id (required)")
	for _, name := range []string{"pipeline", "job", "task", "build"} {
		cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runIdentity(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	pipeline, _ := flags.GetString("pipeline")
	job, _ := flags.GetString("job")
	taskName, _ := flags.GetString("task")
	build, _ := flags.GetString("build")

	req := &task.Request{Pipeline: pipeline, Job: job, Task: taskName, Build: build}
	if err := req.Validate(); err != nil {
		return err
	}
	name := req.Identity()
	fmt.Fprintf(cmd.OutOrStdout(), "name:      %s\ncontainer: %s\n", name, task.ContainerName(name))
	return nil
}
