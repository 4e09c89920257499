package client

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewStatusCommand constructs the `status` command.
func NewStatusCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show retention status of every node (or one with --node)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			nodeName, _ := cmd.Flags().GetString("node")
			return call(cmd, http.MethodGet, endpoint(baseURL, "/v1/status", map[string]string{"node": nodeName}), nil)
		},
	}
	cmd.Flags().String("node", "", "Node name (default: all nodes)")
	return cmd
}

// NewTruncateCommand constructs the `truncate` command.
func NewTruncateCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "truncate",
		Short: "Run one truncation pass on a node now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			nodeName, _ := cmd.Flags().GetString("node")
			return call(cmd, http.MethodPost, endpoint(baseURL, "/v1/truncate", map[string]string{"node": nodeName}), nil)
		},
	}
	cmd.Flags().String("node", "", "Node name (default: primary)")
	return cmd
}

// NewOplogCommand constructs the `oplog` command group.
func NewOplogCommand(baseURL BaseURLFunc) *cobra.Command {
	oplogCmd := &cobra.Command{Use: "oplog", Short: "Oplog operations"}
	oplogCmd.AddCommand(newOplogListCommand(baseURL), newOplogInsertCommand(baseURL))
	return oplogCmd
}

func newOplogListCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List oplog entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			nodeName, _ := cmd.Flags().GetString("node")
			start, _ := cmd.Flags().GetString("start")
			limit, _ := cmd.Flags().GetInt("limit")
			reverse, _ := cmd.Flags().GetBool("reverse")
			q := map[string]string{"node": nodeName, "start": start}
			if limit > 0 {
				q["limit"] = strconv.Itoa(limit)
			}
			if reverse {
				q["reverse"] = "true"
			}
			return call(cmd, http.MethodGet, endpoint(baseURL, "/v1/oplog", q), nil)
		},
	}
	cmd.Flags().String("node", "", "Node name (default: primary)")
	cmd.Flags().String("start", "", "Start timestamp (secs:inc)")
	cmd.Flags().Int("limit", 20, "Max entries")
	cmd.Flags().Bool("reverse", false, "Newest first")
	return cmd
}

func newOplogInsertCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Append a non-transactional write on the primary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			op, _ := cmd.Flags().GetString("op")
			data, _ := cmd.Flags().GetString("data")
			b64, _ := cmd.Flags().GetBool("base64")
			payload, err := decodePayload(data, b64)
			if err != nil {
				return err
			}
			return call(cmd, http.MethodPost, endpoint(baseURL, "/v1/oplog", nil), map[string]any{"op": op, "payload": payload})
		},
	}
	cmd.Flags().String("op", "insert", "Operation: insert|update|delete|noop|command")
	cmd.Flags().String("data", "", "Payload")
	cmd.Flags().Bool("base64", false, "Payload is base64 encoded")
	return cmd
}

// writeFlag is a repeated --write op=payload flag value.
type writeFlag struct {
	Op      string `json:"op"`
	Payload []byte `json:"payload"`
}

func parseWrite(s string) (writeFlag, error) {
	op, payload, ok := strings.Cut(s, "=")
	if !ok {
		return writeFlag{}, fmt.Errorf("invalid --write %q; expected op=payload", s)
	}
	return writeFlag{Op: op, Payload: []byte(payload)}, nil
}
