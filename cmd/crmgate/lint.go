package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prospectcrm/crmgate"
)

func newLintCmd(opts *rootOptions) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate the configuration and list questionable settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.env.Gateway()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			result := cfg.Lint()
			out := cmd.OutOrStdout()
			if len(result) == 0 {
				fmt.Fprintln(out, "ok")
				return nil
			}
			warned := false
			for _, w := range result {
				fmt.Fprintf(out, "%-5s %-28s %s\n", w.Severity, w.Code, w.Message)
				if w.Severity == crmgate.LintWarn {
					warned = true
				}
			}
			if strict && warned {
				return fmt.Errorf("%d lint warning(s)", len(result))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when any warning is reported")
	return cmd
}
