package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewLimitV2Cmd создаёт группу команд для v2-лимитов конкурентности.
func NewLimitV2Cmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limit-v2",
		Short: "Manage named concurrency limits (v2)",
	}

	cmd.AddCommand(
		newLimitV2ListCmd(clientFn, outputFn),
		newLimitV2CreateCmd(clientFn, outputFn),
		newLimitV2ShowCmd(clientFn, outputFn),
		newLimitV2UpdateCmd(clientFn, outputFn),
		newLimitV2DeleteCmd(clientFn, outputFn),
		newLimitV2AcquireCmd(clientFn, outputFn),
		newLimitV2ReleaseCmd(clientFn, outputFn),
	)

	return cmd
}

var limitV2Headers = []string{"NAME", "LIMIT", "ACTIVE", "DENIED", "DECAY", "AVG"}

func limitV2Row(l *LimitV2Response) []string {
	return []string{
		l.Name,
		strconv.Itoa(l.Limit),
		strconv.Itoa(l.ActiveSlots),
		strconv.Itoa(l.DeniedSlots),
		strconv.FormatFloat(l.SlotDecayPerSecond, 'f', -1, 64),
		strconv.FormatFloat(l.AvgSlotsOccupied, 'f', 2, 64),
	}
}

func newLimitV2ListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List v2 concurrency limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			limits, err := client.ListLimitsV2()
			if err != nil {
				return err
			}

			rows := make([][]string, len(limits))
			for i := range limits {
				rows[i] = limitV2Row(&limits[i])
			}

			out.Print(limitV2Headers, rows, limits)
			return nil
		},
	}
}

func newLimitV2CreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int
	var decay float64

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a v2 concurrency limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			lim, err := client.CreateLimitV2(CreateLimitV2Request{
				Name:               args[0],
				Limit:              limit,
				SlotDecayPerSecond: decay,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Limit created: %s", lim.Name))
			out.Print(limitV2Headers, [][]string{limitV2Row(lim)}, lim)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 1, "Maximum concurrent slots")
	cmd.Flags().Float64Var(&decay, "decay", 0, "Slot decay rate per second (rate limiter mode)")

	return cmd
}

func newLimitV2ShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a v2 concurrency limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			lim, err := client.GetLimitV2(args[0])
			if err != nil {
				return err
			}

			out.Print(limitV2Headers, [][]string{limitV2Row(lim)}, lim)
			return nil
		},
	}
}

func newLimitV2UpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int
	var decay float64
	var resetDenied bool

	cmd := &cobra.Command{
		Use:   "update NAME",
		Short: "Update a v2 concurrency limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := UpdateLimitV2Request{ResetDenied: resetDenied}
			if cmd.Flags().Changed("limit") {
				req.Limit = &limit
			}
			if cmd.Flags().Changed("decay") {
				req.SlotDecayPerSecond = &decay
			}

			lim, err := client.UpdateLimitV2(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Limit updated: %s", lim.Name))
			out.Print(limitV2Headers, [][]string{limitV2Row(lim)}, lim)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "New maximum concurrent slots")
	cmd.Flags().Float64Var(&decay, "decay", 0, "New slot decay rate per second")
	cmd.Flags().BoolVar(&resetDenied, "reset-denied", false, "Reset the denied slots counter")

	return cmd
}

func newLimitV2DeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a v2 concurrency limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteLimitV2(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Limit deleted: %s", args[0]))
			return nil
		},
	}
}

func newLimitV2AcquireCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var slots int
	var mode string

	cmd := &cobra.Command{
		Use:   "acquire NAME...",
		Short: "Acquire slots in the named limits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.IncrementLimitsV2(IncrementV2Request{
				Names: args,
				Slots: slots,
				Mode:  mode,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Slots acquired, lease token: %s", result.Token))

			rows := make([][]string, len(result.Limits))
			for i := range result.Limits {
				rows[i] = limitV2Row(&result.Limits[i])
			}
			out.Print(limitV2Headers, rows, result)
			return nil
		},
	}

	cmd.Flags().IntVar(&slots, "slots", 1, "Number of slots to acquire in each limit")
	cmd.Flags().StringVar(&mode, "mode", "all_or_nothing", "Acquire mode (all_or_nothing or as_many_as_possible)")

	return cmd
}

func newLimitV2ReleaseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var slots int
	var token string

	cmd := &cobra.Command{
		Use:   "release NAME...",
		Short: "Release slots in the named limits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			err := client.DecrementLimitsV2(DecrementV2Request{
				Names: args,
				Slots: slots,
				Token: token,
			})
			if err != nil {
				return err
			}

			out.Success("Slots released")
			return nil
		},
	}

	cmd.Flags().IntVar(&slots, "slots", 1, "Number of slots to release in each limit")
	cmd.Flags().StringVar(&token, "token", "", "Lease token from acquire (links release events)")

	return cmd
}
