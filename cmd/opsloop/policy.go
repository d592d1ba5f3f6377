package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Strob0t/opsloop/internal/domain/policy"
	"github.com/Strob0t/opsloop/internal/service"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "List or show policy profiles",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available policy profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return listPolicies(cmd.OutOrStdout(), a.policy)
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a policy profile as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return showPolicy(cmd.OutOrStdout(), a.policy, args[0])
	},
}

func init() {
	policyCmd.AddCommand(policyListCmd, policyShowCmd)
	rootCmd.AddCommand(policyCmd)
}

func listPolicies(w io.Writer, svc *service.PolicyService) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tDEFAULT\tPRESET\tDESCRIPTION")
	for _, name := range svc.ListProfiles() {
		p, _ := svc.GetProfile(name)
		_, _ = fmt.Fprintf(tw, "%s\t%t\t%t\t%s\n", name, name == svc.DefaultProfile(), policy.IsPreset(name), p.Description)
	}
	return tw.Flush()
}

func showPolicy(w io.Writer, svc *service.PolicyService, name string) error {
	p, ok := svc.GetProfile(name)
	if !ok {
		return fmt.Errorf("unknown policy profile %q", name)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}
