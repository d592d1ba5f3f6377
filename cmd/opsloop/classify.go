package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Strob0t/opsloop/internal/domain/policy"
	"github.com/Strob0t/opsloop/internal/service"
)

var (
	classifyProfile string
	classifyJSON    bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify [flags] -- <command>",
	Short: "Show the policy verdict for a command without running it",
	Example: `  opsloop classify -- df -h
  opsloop classify --profile readonly -- apt-get install nginx`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return classify(cmd, a.policy, classifyProfile, strings.Join(args, " "), classifyJSON)
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyProfile, "profile", "", "policy profile (default policy.default_profile)")
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "print the verdict as JSON")
	rootCmd.AddCommand(classifyCmd)
}

type classification struct {
	Profile    string         `json:"profile"`
	Command    string         `json:"command"`
	Verdict    policy.Verdict `json:"verdict"`
	ExecutedAs string         `json:"executed_as,omitempty"`
}

func classify(cmd *cobra.Command, svc *service.PolicyService, profile, command string, asJSON bool) error {
	cls, err := svc.Classifier(profile)
	if err != nil {
		return err
	}
	v, err := svc.Classify(cmd.Context(), cls.Profile(), command)
	if err != nil {
		return err
	}
	out := classification{Profile: cls.Profile(), Command: command, Verdict: v}
	if v.Allowed() {
		out.ExecutedAs = cls.Normalize(command)
	}
	return printClassification(cmd.OutOrStdout(), out, asJSON)
}

func printClassification(w io.Writer, c classification, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "PROFILE\t%s\n", c.Profile)
	_, _ = fmt.Fprintf(tw, "DECISION\t%s\n", c.Verdict.Decision)
	if c.Verdict.Tag != "" {
		_, _ = fmt.Fprintf(tw, "TAG\t%s\n", c.Verdict.Tag)
	}
	_, _ = fmt.Fprintf(tw, "RULE\t%s\n", c.Verdict.Rule)
	_, _ = fmt.Fprintf(tw, "REASON\t%s\n", c.Verdict.Reason)
	if c.ExecutedAs != "" {
		_, _ = fmt.Fprintf(tw, "EXECUTED AS\t%s\n", c.ExecutedAs)
	}
	return tw.Flush()
}
