package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewWorkflowCmd создаёт группу команд для управления workflows.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Manage workflows",
	}

	cmd.AddCommand(
		newWorkflowApplyCmd(clientFn, outputFn),
		newWorkflowListCmd(clientFn, outputFn),
		newWorkflowShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newWorkflowApplyCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply -f FILE",
		Short: "Create or replace a workflow from a YAML/JSON spec",
		Long: `Uploads a workflow spec. A workflow with the same name is replaced.
Use "-f -" to read the spec from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readSpec(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			wf, err := clientFn().ApplyWorkflow(cmd.Context(), data)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Workflow applied: %s", wf.ID))
			return out.Print(
				[]string{"ID", "NAME", "VERSION", "NEXT_DUE"},
				[][]string{{wf.ID, wf.Name, strconv.Itoa(wf.Version), wf.NextDueAt}},
				wf,
			)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to workflow spec (YAML or JSON), - for stdin")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newWorkflowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workflows, err := clientFn().ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "VERSION", "SCHEDULE", "NEXT_DUE", "UPDATED"}
			rows := make([][]string, len(workflows))
			for i, w := range workflows {
				rows[i] = []string{w.ID, w.Name, strconv.Itoa(w.Version), dash(w.Schedule), dash(w.NextDueAt), w.UpdatedAt}
			}

			return outputFn().Print(headers, rows, workflows)
		},
	}
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show workflow details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := clientFn().GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.IsJSON() {
				return out.JSON(wf)
			}
			return out.Fields([][2]string{
				{"ID", wf.ID},
				{"Name", wf.Name},
				{"Version", strconv.Itoa(wf.Version)},
				{"Schedule", wf.Schedule},
				{"Next due", wf.NextDueAt},
				{"Updated", wf.UpdatedAt},
			})
		},
	}
}

func readSpec(stdin io.Reader, file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	return data, nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
