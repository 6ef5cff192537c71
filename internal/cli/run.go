package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunTriggerCmd(clientFn, outputFn),
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger WORKFLOW_ID",
		Short: "Start a new run of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := clientFn().TriggerRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Run started: %s", res.RunID))
			return out.Print(
				[]string{"RUN_ID", "TASKS"},
				[][]string{{res.RunID, strconv.Itoa(res.Tasks)}},
				res,
			)
		},
	}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "WORKFLOW_ID", "STATUS", "CREATED", "FINISHED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.WorkflowID, r.Status, r.CreatedAt, dash(r.FinishedAt)}
			}

			return outputFn().Print(headers, rows, runs)
		},
	}

	cmd.Flags().StringVar(&opts.WorkflowID, "workflow-id", "", "Filter by workflow ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (running, succeeded, failed)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results (up to 100)")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show run status and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := clientFn().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.IsJSON() {
				return out.JSON(details)
			}

			run := details.Run
			if err := out.Fields([][2]string{
				{"Run", run.ID},
				{"Workflow", run.WorkflowID},
				{"Status", run.Status},
				{"Started", run.StartedAt},
				{"Finished", run.FinishedAt},
				{"Duration", elapsed(run.DurationMs)},
			}); err != nil {
				return err
			}
			fmt.Fprintln(out.w)

			headers := []string{"NAME", "TYPE", "STATUS", "ATTEMPT", "DURATION", "DEPENDS_ON", "ERROR"}
			rows := make([][]string, len(details.Tasks))
			for i, t := range details.Tasks {
				rows[i] = []string{
					t.Name, t.Type, t.Status, strconv.Itoa(t.Attempt), elapsed(t.DurationMs),
					dash(strings.Join(t.DependsOn, ",")), t.Error,
				}
			}
			return out.Table(headers, rows)
		},
	}
}

// elapsed печатает длительность из миллисекунд; "-" для незавершённых.
func elapsed(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return (time.Duration(ms) * time.Millisecond).String()
}
