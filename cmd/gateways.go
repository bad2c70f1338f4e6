package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/registry"
)

func gatewaysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateways",
		Short: "List configured gateways and their credential completeness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			printGateways(reg)
			return nil
		},
	}
}

func printGateways(reg *registry.Registry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tPROVIDER\tACTIVE\tPRIORITY\tMODE\tMETHODS\tENTITIES\tCREDENTIALS")
	for _, c := range reg.Configs() {
		mode := "live"
		if reg.IsSandbox(c) {
			mode = "sandbox"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\t%s\t%s\t%s\n",
			c.ID, c.Provider, c.Active, c.Priority, mode,
			joinMethods(c.AllowedMethods), joinKinds(c.EntityTypes),
			credentialStatus(reg, c),
		)
	}
}

func credentialStatus(reg *registry.Registry, c models.GatewayConfig) string {
	creds := reg.Credentials(c)
	var missing []string
	for _, key := range registry.RequiredCredentials(c.Provider) {
		if creds[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return "complete"
	}
	return "missing " + strings.Join(missing, ",")
}

func joinMethods(ms []models.PaymentMethod) string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return strings.Join(out, ",")
}

func joinKinds(ks []models.EntityKind) string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = string(k)
	}
	return strings.Join(out, ",")
}
