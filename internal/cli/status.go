package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/apphost/internal/app/services/status"
	"github.com/R3E-Network/apphost/internal/middleware"
)

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the combined module and deployment status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := opts.client().Status(commandContext(cmd))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if opts.json() {
				return printJSON(w, snap)
			}

			s := snap.Summary
			fmt.Fprintf(w, "Modules:     %d (%d resolved, %d unresolved)\n", s.Modules, s.ResolvedModules, s.UnresolvedModules)
			fmt.Fprintf(w, "Deployments: %d (%d active, %d loading, %d error)\n\n", s.Deployments,
				s.ByDisplay[status.DisplayActive], s.ByDisplay[status.DisplayLoading], s.ByDisplay[status.DisplayError])

			tw := newTable(w)
			fmt.Fprintln(tw, "MODULE\tTYPE\tRESOLVED\tMISSING\tDEPLOYMENTS")
			for _, m := range snap.Modules {
				missing := "-"
				if m.HasMissingDependencies {
					missing = fmt.Sprint(m.MissingDependencies)
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%d\n", m.Name, m.Type, m.IsResolved, missing, m.Deployments)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintln(w)
			tw = newTable(w)
			fmt.Fprintln(tw, "DOMAIN\tMODULE\tSTATUS\tURL")
			for _, d := range snap.Deployments {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Domain, d.ModuleName, Colorize(w, string(d.Display), displayColor(d.Display)), orDash(d.URL))
			}
			return tw.Flush()
		},
	}
}

func displayColor(d status.Display) string {
	switch d {
	case status.DisplayActive:
		return ColorGreen
	case status.DisplayError:
		return ColorRed
	case status.DisplayLoading, status.DisplayUnloading:
		return ColorYellow
	default:
		return ColorReset
	}
}

func whoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the user ID the server sees for the current token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := opts.client().UserID(commandContext(cmd))
			if err != nil {
				return err
			}
			if opts.json() {
				return printJSON(cmd.OutOrStdout(), map[string]string{"userId": id})
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		secret string
		issuer string
		ttl    time.Duration
	)
	c := &cobra.Command{
		Use:   "token USER",
		Short: "Mint a signed bearer token for USER",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret (or AUTH_JWT_SECRET) is required")
			}
			tok, err := middleware.IssueToken([]byte(secret), issuer, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	c.Flags().StringVar(&secret, "secret", os.Getenv("AUTH_JWT_SECRET"), "HMAC signing secret")
	c.Flags().StringVar(&issuer, "issuer", os.Getenv("AUTH_ISSUER"), "token issuer")
	c.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return c
}
