package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewLimitCmd создаёт группу команд для v1-лимитов конкурентности.
func NewLimitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limit",
		Short: "Manage tag-based concurrency limits",
	}

	cmd.AddCommand(
		newLimitListCmd(clientFn, outputFn),
		newLimitCreateCmd(clientFn, outputFn),
		newLimitShowCmd(clientFn, outputFn),
		newLimitDeleteCmd(clientFn, outputFn),
		newLimitAcquireCmd(clientFn, outputFn),
		newLimitReleaseCmd(clientFn, outputFn),
	)

	return cmd
}

var limitHeaders = []string{"TAG", "LIMIT", "ACTIVE", "CREATED"}

func limitRow(l *LimitResponse) []string {
	return []string{l.Tag, strconv.Itoa(l.Limit), strconv.Itoa(len(l.ActiveSlots)), l.CreatedAt}
}

func newLimitListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List concurrency limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			limits, err := client.ListLimits()
			if err != nil {
				return err
			}

			rows := make([][]string, len(limits))
			for i := range limits {
				rows[i] = limitRow(&limits[i])
			}

			out.Print(limitHeaders, rows, limits)
			return nil
		},
	}
}

func newLimitCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "create TAG",
		Short: "Create a concurrency limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			lim, err := client.CreateLimit(CreateLimitRequest{
				Tag:   args[0],
				Limit: limit,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Limit created: %s", lim.Tag))
			out.Print(limitHeaders, [][]string{limitRow(lim)}, lim)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 1, "Maximum concurrent slots (0 blocks all holders)")

	return cmd
}

func newLimitShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show TAG",
		Short: "Show a concurrency limit and its slot holders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			lim, err := client.GetLimit(args[0])
			if err != nil {
				return err
			}

			headers := []string{"TAG", "LIMIT", "ACTIVE", "HOLDERS"}
			rows := make([][]string, 0, len(lim.ActiveSlots)+1)
			if len(lim.ActiveSlots) == 0 {
				rows = append(rows, []string{lim.Tag, strconv.Itoa(lim.Limit), "0", ""})
			}
			for i, id := range lim.ActiveSlots {
				row := []string{"", "", "", id}
				if i == 0 {
					row[0] = lim.Tag
					row[1] = strconv.Itoa(lim.Limit)
					row[2] = strconv.Itoa(len(lim.ActiveSlots))
				}
				rows = append(rows, row)
			}

			out.Print(headers, rows, lim)
			return nil
		},
	}
}

func newLimitDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete TAG",
		Short: "Delete a concurrency limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteLimit(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Limit deleted: %s", args[0]))
			return nil
		},
	}
}

func newLimitAcquireCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var taskRunID string
	var wait bool
	var timeoutSec int

	cmd := &cobra.Command{
		Use:   "acquire TAG...",
		Short: "Acquire one slot in each tagged limit for a task run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			err := client.IncrementLimits(MutateSlotsRequest{
				Names:      args,
				TaskRunID:  taskRunID,
				Wait:       wait,
				TimeoutSec: timeoutSec,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Slots acquired for %s", taskRunID))
			return nil
		},
	}

	cmd.Flags().StringVar(&taskRunID, "task-run", "", "Task run ID occupying the slots")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until slots become available")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Blocking acquire timeout in seconds")
	cmd.MarkFlagRequired("task-run")

	return cmd
}

func newLimitReleaseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var taskRunID string

	cmd := &cobra.Command{
		Use:   "release TAG...",
		Short: "Release the task run's slots in the tagged limits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			err := client.DecrementLimits(MutateSlotsRequest{
				Names:     args,
				TaskRunID: taskRunID,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Slots released for %s", taskRunID))
			return nil
		},
	}

	cmd.Flags().StringVar(&taskRunID, "task-run", "", "Task run ID whose slots are released")
	cmd.MarkFlagRequired("task-run")

	return cmd
}
