package main

import (
	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/report"
	"github.com/aristath/taskflow/internal/template"
)

func templatesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List and inspect workflow templates",
	}

	var (
		category string
		tags     []string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := buildTemplates(a.cfg, a.logger)
			if err != nil {
				return err
			}

			list := reg.List()
			if category != "" {
				list = reg.ByCategory(template.Category(category))
			}
			if len(tags) > 0 {
				list = intersect(list, reg.SearchTags(tags...))
			}

			report.New(cmd.OutOrStdout()).Templates(list)
			return nil
		},
	}
	listCmd.Flags().StringVar(&category, "category", "", "Only templates in this category")
	listCmd.Flags().StringSliceVar(&tags, "tag", nil, "Only templates carrying any of these tags")

	var asYAML bool
	showCmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Show a template's parameters and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := buildTemplates(a.cfg, a.logger)
			if err != nil {
				return err
			}
			t, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			if asYAML {
				return template.Encode(cmd.OutOrStdout(), t)
			}
			report.New(cmd.OutOrStdout()).Template(t)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the template as YAML, ready to copy and edit")

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

// intersect keeps the templates of a that are also in b, in a's order.
func intersect(a, b []*template.Template) []*template.Template {
	in := make(map[string]bool, len(b))
	for _, t := range b {
		in[t.Name] = true
	}
	kept := []*template.Template{}
	for _, t := range a {
		if in[t.Name] {
			kept = append(kept, t)
		}
	}
	return kept
}
