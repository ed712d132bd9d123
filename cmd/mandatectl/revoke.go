package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/mandates/internal/models"
)

var revokeLive bool

var revokeCmd = &cobra.Command{
	Use:   "revoke [account-id] [mandate-id-or-secret]",
	Short: "Revoke an active payment mandate",
	Long: `Force an active mandate to inactive/revoked and print the result.

Revoking a mandate that is already inactive fails and leaves it unchanged.

Examples:
  mandatectl revoke acct_123 pm_abc
  mandatectl revoke acct_123 pm_abc --live`,
	Args: cobra.ExactArgs(2),
	RunE: runRevoke,
}

func init() {
	revokeCmd.Flags().BoolVar(&revokeLive, "live", false, "use the live namespace")
}

func runRevoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	m, found, err := e.backend.MandateService(e.logger).RevokePaymentMandate(ctx, args[0], revokeLive, args[1])
	if err != nil {
		return fmt.Errorf("revoke failed: %w", err)
	}
	if !found {
		return fmt.Errorf("payment mandate %s not found for account %s", args[1], args[0])
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(models.NewMandate(m))
}
