package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the oplogd client.
// It registers every client command group.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "oplogd",
		Short: "oplogd client commands",
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands registers the client command groups on root.
func AddCommands(root *cobra.Command, baseURL BaseURLFunc) {
	root.AddCommand(
		NewStatusCommand(baseURL),
		NewOplogCommand(baseURL),
		NewTxnCommand(baseURL),
		NewTruncateCommand(baseURL),
	)
}
