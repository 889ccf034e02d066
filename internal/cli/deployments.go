package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
)

func deploymentsCmd(opts *options) *cobra.Command {
	c := &cobra.Command{
		Use:     "deployments",
		Aliases: []string{"deployment", "deploy", "dep"},
		Short:   "Register, load and inspect deployments",
	}
	c.AddCommand(
		deploymentsListCmd(opts),
		deploymentsGetCmd(opts),
		deploymentsRegisterCmd(opts),
		deploymentsUnregisterCmd(opts),
		deploymentsLoadCmd(opts),
		deploymentsUnloadCmd(opts),
		deploymentsToggleCmd(opts),
		deploymentsReportCmd(opts),
	)
	return c
}

func deploymentsListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := opts.client().ListDeployments(commandContext(cmd))
			if err != nil {
				return err
			}
			return writeDeployments(cmd.OutOrStdout(), opts, deps)
		},
	}
}

func deploymentsGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get DOMAIN",
		Short: "Show one deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dep, err := opts.client().GetDeployment(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return writeDeploymentDetail(cmd.OutOrStdout(), opts, dep)
		},
	}
}

func deploymentsRegisterCmd(opts *options) *cobra.Command {
	var (
		domain     string
		injections map[string]string
	)
	c := &cobra.Command{
		Use:   "register MODULE",
		Short: "Bind a module to a domain",
		Long: "Bind a module to a domain. Without --domain the server derives " +
			"<module>.<user>.user from the caller's identity.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dep, err := opts.client().Register(commandContext(cmd), domain, args[0], injections)
			if err != nil {
				return err
			}
			return writeDeploymentDetail(cmd.OutOrStdout(), opts, dep)
		},
	}
	c.Flags().StringVar(&domain, "domain", "", "deployment domain")
	c.Flags().StringToStringVar(&injections, "inject", nil, "injection key=value (repeatable)")
	return c
}

func deploymentsUnregisterCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister DOMAIN",
		Short: "Unload if needed and remove a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Unregister(commandContext(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deployment %s removed\n", args[0])
			return nil
		},
	}
}

func deploymentsLoadCmd(opts *options) *cobra.Command {
	var (
		detach   bool
		interval time.Duration
	)
	c := &cobra.Command{
		Use:   "load DOMAIN",
		Short: "Start loading a deployment and follow it until it settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client := opts.client()
			domain := args[0]

			dep, err := client.Load(ctx, domain, false)
			if err != nil {
				return err
			}
			if detach || dep.State != deployment.StateLoading {
				return writeDeploymentDetail(cmd.OutOrStdout(), opts, dep)
			}

			out := cmd.OutOrStdout()
			if opts.json() {
				dep, err = client.WaitLoaded(ctx, domain, interval, nil)
				if err != nil {
					return err
				}
				return printJSON(out, dep)
			}

			spinner := NewSpinner(out, "loading "+domain)
			spinner.Start()
			started := time.Now()
			dep, err = client.WaitLoaded(ctx, domain, interval, func(d deployment.Deployment) {
				spinner.SetSuffix(fmt.Sprintf("(ticks %d, %s)", d.LoadingTicks, formatDuration(time.Since(started))))
			})
			if err != nil {
				spinner.Error(err.Error())
				return err
			}
			return finishLoad(spinner, dep, time.Since(started))
		},
	}
	c.Flags().BoolVar(&detach, "detach", false, "return as soon as the load has started")
	c.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "poll interval while loading")
	return c
}

func finishLoad(spinner *Spinner, dep deployment.Deployment, took time.Duration) error {
	switch dep.State {
	case deployment.StateActive:
		msg := fmt.Sprintf("%s active after %s", dep.Domain, formatDuration(took))
		if dep.URL != "" {
			msg += " at " + dep.URL
		}
		spinner.Success(msg)
		return nil
	case deployment.StateError:
		spinner.Error(fmt.Sprintf("%s failed: %s", dep.Domain, dep.LastError))
		return fmt.Errorf("load %s: %s", dep.Domain, dep.LastError)
	default:
		spinner.Success(fmt.Sprintf("%s is %s", dep.Domain, dep.State))
		return nil
	}
}

func deploymentsUnloadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unload DOMAIN",
		Short: "Unload a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dep, err := opts.client().Unload(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return writeDeploymentDetail(cmd.OutOrStdout(), opts, dep)
		},
	}
}

func deploymentsToggleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle DOMAIN",
		Short: "Load an inactive deployment or unload an active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dep, err := opts.client().Toggle(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return writeDeploymentDetail(cmd.OutOrStdout(), opts, dep)
		},
	}
}

func deploymentsReportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "report DOMAIN",
		Short: "Show the lifecycle event history of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := opts.client().Report(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if opts.json() {
				return printJSON(w, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(w, "(no events)")
				return nil
			}
			tw := newTable(w)
			fmt.Fprintln(tw, "TIME\tEVENT\tMESSAGE")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.At.Format(time.RFC3339), e.Type, e.Message)
			}
			return tw.Flush()
		},
	}
}

func writeDeployments(w io.Writer, opts *options, deps []deployment.Deployment) error {
	if opts.json() {
		return printJSON(w, deps)
	}
	if len(deps) == 0 {
		fmt.Fprintln(w, "(no deployments)")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "DOMAIN\tMODULE\tSTATE\tACTIVE\tURL")
	for _, d := range deps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", d.Domain, d.ModuleName, d.State, d.Active, orDash(d.URL))
	}
	return tw.Flush()
}

func writeDeploymentDetail(w io.Writer, opts *options, d deployment.Deployment) error {
	if opts.json() {
		return printJSON(w, d)
	}
	fmt.Fprintf(w, "Domain:     %s\n", d.Domain)
	fmt.Fprintf(w, "Module:     %s\n", d.ModuleName)
	fmt.Fprintf(w, "State:      %s\n", d.State)
	fmt.Fprintf(w, "Active:     %t\n", d.Active)
	if d.Owner != "" {
		fmt.Fprintf(w, "Owner:      %s\n", d.Owner)
	}
	if d.URL != "" {
		fmt.Fprintf(w, "URL:        %s\n", d.URL)
	}
	if d.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", d.LastError)
	}
	if len(d.Injections) > 0 {
		fmt.Fprintf(w, "Injections: %s\n", formatInjections(d.Injections))
	}
	return nil
}

func formatInjections(in map[string]string) string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+in[k])
	}
	return strings.Join(parts, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
