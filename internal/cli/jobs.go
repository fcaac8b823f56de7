package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewAddCmd schedules a job.
func NewAddCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		at      string
		in      time.Duration
		message string
		id      string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a job",
		Example: `  delayctl add --in 10m --message '{"callbackUrl":"http://localhost:9000/hook"}'
  delayctl add --at 2030-01-01T00:00:00Z --message '"happy new year"' --id ny2030`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ms int64
			if cmd.Flags().Changed("at") {
				t, err := parseAt(at)
				if err != nil {
					return err
				}
				ms = t
			} else {
				ms = time.Now().Add(in).UnixMilli()
			}

			job, err := clientFn().CreateJob(cmd.Context(), CreateJobRequest{
				ID:      id,
				Time:    ms,
				Message: messageJSON(message),
			})
			if err != nil {
				return err
			}

			out := outputFn()
			out.Print(jobHeaders, [][]string{jobRow(*job)}, job)
			out.Success("Job " + job.ID + " scheduled")
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Firing time: RFC3339 or Unix milliseconds")
	cmd.Flags().DurationVar(&in, "in", 0, "Firing delay from now, e.g. 90s or 2h")
	cmd.Flags().StringVar(&message, "message", "", "Message JSON; other text is sent as a JSON string")
	cmd.Flags().StringVar(&id, "id", "", "Job ID (generated when empty)")
	_ = cmd.MarkFlagRequired("message")
	cmd.MarkFlagsMutuallyExclusive("at", "in")
	cmd.MarkFlagsOneRequired("at", "in")

	return cmd
}

// NewListCmd prints pending jobs in firing order.
func NewListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List pending jobs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := clientFn().ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			if jobs == nil {
				jobs = []Job{}
			}
			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = jobRow(j)
			}
			outputFn().Print(jobHeaders, rows, jobs)
			return nil
		},
	}
}

// NewGetCmd prints one job.
func NewGetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := clientFn().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outputFn().Print(jobHeaders, [][]string{jobRow(*job)}, job)
			return nil
		},
	}
}

// NewRemoveCmd cancels a job.
func NewRemoveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Cancel a pending job",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := clientFn().RemoveJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outputFn().Success("Job " + job.ID + " removed")
			return nil
		},
	}
}

// NewClearCmd cancels every job.
func NewClearCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Cancel every pending job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			if err := clientFn().ClearJobs(cmd.Context()); err != nil {
				return err
			}
			outputFn().Success("Queue cleared")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm clearing the queue")
	return cmd
}

var jobHeaders = []string{"ID", "TIME", "MESSAGE"}

func jobRow(j Job) []string {
	return []string{j.ID, j.At().UTC().Format(time.RFC3339), truncate(string(j.Message), 60)}
}

func parseAt(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid --at %q: want RFC3339 or Unix milliseconds", s)
	}
	return t.UnixMilli(), nil
}

func messageJSON(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
