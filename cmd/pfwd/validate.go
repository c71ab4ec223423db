package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FakeKuryr/pfwd/internal/config"
)

// newValidateCmd implements the dry-run mode SPEC_FULL.md §12 adds: run the
// validator alone and report the result without starting any pipeline.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without starting any pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadAndMerge()
			if err != nil {
				return err
			}

			specs, err := config.Validate(file)
			if err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}

			for _, s := range specs {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-20s %s\n", s.Kind.String(), s.Label, summarize(s))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d forward spec(s) valid\n", len(specs))
			return nil
		},
	}
}

func summarize(s config.ForwardSpec) string {
	switch s.Kind {
	case config.KindNamespaceEndpoint:
		return fmt.Sprintf("ns=%s uds=%s target=%s", s.NamespaceRef, s.UdsPath, s.TargetTcp)
	case config.KindHostUdsProxy:
		return fmt.Sprintf("listen=%s uds=%s", s.ListenTcp, s.UdsPath)
	case config.KindDirectTcpProxy:
		return fmt.Sprintf("listen=%s target=%s", s.ListenTcp, s.TargetTcp)
	case config.KindDirectUdpProxy:
		return fmt.Sprintf("listen=%s target=%s idle=%s", s.ListenUdp, s.TargetUdp, s.UdpIdleTimeout.String())
	default:
		return ""
	}
}
