package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/apphost/internal/app/domain/module"
)

func modulesCmd(opts *options) *cobra.Command {
	c := &cobra.Command{
		Use:     "modules",
		Aliases: []string{"module", "mod"},
		Short:   "Inspect and manage application modules",
	}
	c.AddCommand(
		modulesListCmd(opts),
		modulesGetCmd(opts),
		modulesDeleteCmd(opts),
		modulesResolveCmd(opts),
		modulesUploadCmd(opts),
	)
	return c
}

func modulesListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mods, err := opts.client().ListModules(commandContext(cmd))
			if err != nil {
				return err
			}
			return writeModules(cmd.OutOrStdout(), opts, mods)
		},
	}
}

func modulesGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "Show one module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.client().GetModule(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return writeModuleDetail(cmd.OutOrStdout(), opts, m)
		},
	}
}

func modulesDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a module that no deployment references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().DeleteModule(commandContext(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "module %s deleted\n", args[0])
			return nil
		},
	}
}

func modulesResolveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve NAME",
		Short: "Recompute a module's dependency resolution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.client().ResolveModule(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return writeModuleDetail(cmd.OutOrStdout(), opts, m)
		},
	}
}

func modulesUploadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload module manifests (YAML or JSON)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifacts := make([]Artifact, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				artifacts = append(artifacts, Artifact{Name: path, Data: data})
			}
			mods, err := opts.client().UploadModules(commandContext(cmd), artifacts)
			if err != nil {
				return err
			}
			return writeModules(cmd.OutOrStdout(), opts, mods)
		},
	}
}

func writeModules(w io.Writer, opts *options, mods []module.Descriptor) error {
	if opts.json() {
		return printJSON(w, mods)
	}
	if len(mods) == 0 {
		fmt.Fprintln(w, "(no modules)")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tTYPE\tRESOLVED\tDEPENDENCIES\tISSUES")
	for _, m := range mods {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%d\n", m.Name, m.Type, m.IsResolved, formatDependencies(m.Dependencies), len(m.Issues))
	}
	return tw.Flush()
}

func writeModuleDetail(w io.Writer, opts *options, m module.Descriptor) error {
	if opts.json() {
		return printJSON(w, m)
	}
	fmt.Fprintf(w, "Name:         %s\n", m.Name)
	fmt.Fprintf(w, "Type:         %s\n", m.Type)
	fmt.Fprintf(w, "Resolved:     %t\n", m.IsResolved)
	fmt.Fprintf(w, "Dependencies: %s\n", formatDependencies(m.Dependencies))
	for _, issue := range m.Issues {
		fmt.Fprintf(w, "Issue:        %s\n", issue)
	}
	return nil
}

func formatDependencies(deps []module.Dependency) string {
	if len(deps) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(deps))
	for _, d := range deps {
		if d.Available {
			parts = append(parts, d.Name)
		} else {
			parts = append(parts, d.Name+"(missing)")
		}
	}
	return strings.Join(parts, ",")
}
