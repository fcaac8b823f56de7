// Package cli implements delayctl, a command line client for the delayd
// HTTP API.
package cli

import (
	"io"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the delayctl command tree writing to stdout and stderr.
func NewRootCmd(version string, stdout, stderr io.Writer) *cobra.Command {
	var apiURL string
	var jsonOutput bool

	root := &cobra.Command{
		Use:           "delayctl",
		Short:         "delayctl manages jobs on a delayd daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "delayd API URL")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *Client { return NewClient(apiURL) }
	outputFn := func() *Output { return NewOutputTo(jsonOutput, stdout, stderr) }

	root.AddCommand(
		NewAddCmd(clientFn, outputFn),
		NewListCmd(clientFn, outputFn),
		NewGetCmd(clientFn, outputFn),
		NewRemoveCmd(clientFn, outputFn),
		NewClearCmd(clientFn, outputFn),
	)
	return root
}
