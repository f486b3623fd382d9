package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/hookdesk/internal/config"
	hookdeskTLS "github.com/foxzi/hookdesk/internal/tls"
)

var tlsCmd = &cobra.Command{
	Use:   "tls",
	Short: "TLS certificate commands",
}

var tlsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show certificate expiry for the configured listener",
	RunE:  runTLSStatus,
}

func init() {
	tlsCmd.AddCommand(tlsStatusCmd)
}

func runTLSStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	tlsCfg := cfg.Server.TLS
	if !tlsCfg.Enabled {
		fmt.Println("TLS is disabled")
		return nil
	}

	var certs []hookdeskTLS.CertificateInfo
	if tlsCfg.ACME.Enabled {
		fmt.Printf("ACME domains: %s (cache %s)\n", strings.Join(tlsCfg.ACME.Domains, ", "), tlsCfg.ACME.CacheDir)
		manager := hookdeskTLS.NewACMEManager(tlsCfg.ACME.Email, tlsCfg.ACME.Domains, tlsCfg.ACME.CacheDir)
		certs = manager.CachedCertificates(cmd.Context())
		if len(certs) < len(tlsCfg.ACME.Domains) {
			fmt.Printf("%d of %d domains have no cached certificate yet\n", len(tlsCfg.ACME.Domains)-len(certs), len(tlsCfg.ACME.Domains))
		}
	} else {
		info, err := hookdeskTLS.ReadCertificateInfo(tlsCfg.CertFile)
		if err != nil {
			return err
		}
		certs = append(certs, *info)
	}

	table := newTable("Domain", "Issuer", "Expires", "Days left")
	for _, c := range certs {
		if err := table.Append(c.Domain, c.Issuer, formatTime(&c.NotAfter), c.DaysLeft); err != nil {
			return err
		}
	}
	return table.Render()
}
