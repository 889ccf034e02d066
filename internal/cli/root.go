package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

const (
	envServer = "APPHOST_URL"
	envToken  = "APPHOST_TOKEN"
)

type options struct {
	server  string
	token   string
	timeout time.Duration
	output  string
}

func (o *options) client() *Client {
	return NewClient(o.server, o.token, o.timeout)
}

func (o *options) json() bool { return o.output == "json" }

// Execute runs hostctl with os.Args.
func Execute() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the hostctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "hostctl",
		Short:        "Manage modules and deployments on an application host",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			switch opts.output {
			case "table", "json":
				return nil
			default:
				return fmt.Errorf("unknown output format %q (want table or json)", opts.output)
			}
		},
	}

	server := os.Getenv(envServer)
	if server == "" {
		server = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", server, "API base URL (env "+envServer+")")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv(envToken), "bearer token (env "+envToken+")")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "output format: table or json")

	cmd.AddCommand(
		modulesCmd(opts),
		deploymentsCmd(opts),
		statusCmd(opts),
		whoamiCmd(opts),
		tokenCmd(),
	)
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
