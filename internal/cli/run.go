package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunCreateCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunStatesCmd(clientFn, outputFn),
		newRunSetStateCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "NAME", "KIND", "STATE", "RUN_COUNT", "CREATED"}

func runRow(r *RunResponse) []string {
	return []string{r.ID, r.Name, r.Kind, r.CurrentStateType, strconv.Itoa(r.RunCount), r.CreatedAt}
}

func newRunCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var kind string
	var parentRunID string
	var tags []string
	var maxRetries int
	var retryDelaySec int
	var scheduledTime string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CreateRun(CreateRunRequest{
				Name:          args[0],
				Kind:          kind,
				ParentRunID:   parentRunID,
				Tags:          tags,
				MaxRetries:    maxRetries,
				RetryDelaySec: retryDelaySec,
				ScheduledTime: scheduledTime,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run created: %s", run.ID))
			out.Print(runHeaders, [][]string{runRow(run)}, run)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "flow_run", "Run kind (flow_run or task_run)")
	cmd.Flags().StringVar(&parentRunID, "parent", "", "Parent flow run ID (for task runs)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Concurrency limit tag (repeatable)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Maximum retry attempts for a task run")
	cmd.Flags().IntVar(&retryDelaySec, "retry-delay", 0, "Delay between retries in seconds")
	cmd.Flags().StringVar(&scheduledTime, "scheduled-time", "", "Scheduled start time (RFC 3339)")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			out.Print(runHeaders, [][]string{runRow(run)}, run)
			return nil
		},
	}
}

func newRunStatesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "states ID",
		Short: "Show run state history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			states, err := client.ListRunStates(args[0])
			if err != nil {
				return err
			}

			headers := []string{"TYPE", "NAME", "TIMESTAMP", "MESSAGE"}
			rows := make([][]string, len(states))
			for i, s := range states {
				rows[i] = []string{s.Type, s.Name, s.Timestamp, s.Message}
			}

			out.Print(headers, rows, states)
			return nil
		},
	}
}

func newRunSetStateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var message string
	var transitionID string
	var force bool

	cmd := &cobra.Command{
		Use:   "set-state ID TYPE",
		Short: "Propose a state transition",
		Long: `Propose a state transition for the run. The orchestration engine
may accept, reject or delay the proposal; the verdict is printed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.SetRunState(args[0], SetStateRequest{
				State: StateInput{
					Type:         args[1],
					Name:         name,
					Message:      message,
					TransitionID: transitionID,
				},
				Force: force,
			})
			if err != nil {
				return err
			}

			printVerdict(out, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "State name (defaults to the type)")
	cmd.Flags().StringVar(&message, "message", "", "Human-readable message")
	cmd.Flags().StringVar(&transitionID, "transition-id", "", "Idempotency key for the transition")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass orchestration rules")

	return cmd
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			printVerdict(out, result)
			return nil
		},
	}
}

// printVerdict выводит вердикт оркестратора по предложенному переходу.
func printVerdict(out *Output, result *SetStateResponse) {
	switch result.Status {
	case "ACCEPT":
		out.Success(fmt.Sprintf("Transition accepted: %s", result.State.Type))
	case "WAIT":
		out.Warn(fmt.Sprintf("Transition delayed: %s (retry after %.0fs)", result.Reason, result.RetryAfterSec))
	default:
		out.Error(fmt.Sprintf("Transition %s: %s", result.Status, result.Reason))
	}

	stateRow := []string{result.Status, result.Reason, ""}
	if result.State != nil {
		stateRow[2] = result.State.Type
	}
	out.Print([]string{"STATUS", "REASON", "STATE"}, [][]string{stateRow}, result)
}
