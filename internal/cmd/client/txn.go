package client

import (
	"net/http"

	"github.com/spf13/cobra"
)

// NewTxnCommand constructs the `txn` command group.
func NewTxnCommand(baseURL BaseURLFunc) *cobra.Command {
	txnCmd := &cobra.Command{Use: "txn", Short: "Transaction operations on the primary"}
	txnCmd.AddCommand(
		newTxnBeginCommand(baseURL),
		newTxnListCommand(baseURL),
		newTxnResolveCommand(baseURL, "prepare", "Prepare a running transaction"),
		newTxnResolveCommand(baseURL, "commit", "Commit a transaction"),
		newTxnResolveCommand(baseURL, "abort", "Abort a transaction"),
	)
	return txnCmd
}

func newTxnBeginCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "begin",
		Short:   "Begin a transaction with writes, optionally preparing it",
		Example: "  oplogd txn begin --write insert=a --write update=b --prepare",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, _ := cmd.Flags().GetStringArray("write")
			prepare, _ := cmd.Flags().GetBool("prepare")
			writes := make([]writeFlag, 0, len(raw))
			for _, s := range raw {
				w, err := parseWrite(s)
				if err != nil {
					return err
				}
				writes = append(writes, w)
			}
			body := map[string]any{"writes": writes, "prepare": prepare}
			return call(cmd, http.MethodPost, endpoint(baseURL, "/v1/txns", nil), body)
		},
	}
	cmd.Flags().StringArray("write", nil, "Write as op=payload (repeatable)")
	cmd.Flags().Bool("prepare", false, "Prepare after writing")
	return cmd
}

func newTxnListCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open and prepared transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			nodeName, _ := cmd.Flags().GetString("node")
			return call(cmd, http.MethodGet, endpoint(baseURL, "/v1/txns", map[string]string{"node": nodeName}), nil)
		},
	}
	cmd.Flags().String("node", "", "Node name (default: primary)")
	return cmd
}

func newTxnResolveCommand(baseURL BaseURLFunc, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <txn-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodPost, endpoint(baseURL, "/v1/txns/"+args[0]+"/"+action, nil), nil)
		},
	}
}
