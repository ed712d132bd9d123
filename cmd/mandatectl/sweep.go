package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepNamespaces []string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire active mandates whose expiry has passed",
	Long: `Find every account holding an active mandate past its expiry and
move those mandates to inactive/expired.

Reads do the same thing lazily; sweep exists so mandates on accounts nobody
reads still settle into their final state.

Examples:
  mandatectl sweep
  mandatectl sweep --namespace live`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringSliceVarP(&sweepNamespaces, "namespace", "n", []string{"test", "live"}, "namespaces to sweep (test, live)")
}

func runSweep(cmd *cobra.Command, args []string) error {
	var lives []bool
	for _, ns := range sweepNamespaces {
		switch ns {
		case "test":
			lives = append(lives, false)
		case "live":
			lives = append(lives, true)
		default:
			return fmt.Errorf("unknown namespace %q", ns)
		}
	}

	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	svc := e.backend.MandateService(e.logger)
	var failed bool
	for _, live := range lives {
		swept, err := svc.SweepExpiredMandates(ctx, live)
		e.logger.Info("sweep finished", zap.Bool("live", live), zap.Int("accounts", len(swept)))
		if err != nil {
			e.logger.Error("sweep incomplete", zap.Bool("live", live), zap.Error(err))
			failed = true
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-5s %d accounts swept\n", namespaceName(live), len(swept))
	}
	if failed {
		return fmt.Errorf("sweep incomplete, rerun to converge")
	}
	return nil
}

func namespaceName(live bool) string {
	if live {
		return "live"
	}
	return "test"
}
