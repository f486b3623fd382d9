package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/hookdesk/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	rl := cfg.Webhook.RateLimit
	rateLimit := "disabled"
	if rl.Enabled {
		rateLimit = fmt.Sprintf("ip %d/min, token %d/min %d/h", rl.PerIPMinute, rl.PerTokenMinute, rl.PerTokenHour)
	}

	fmt.Println("Configuration is valid")
	table := newTable("Setting", "Value")
	rows := [][]any{
		{"Listen address", cfg.Server.ListenAddr},
		{"TLS", fmt.Sprintf("%v (acme %v)", cfg.Server.TLS.Enabled, cfg.Server.TLS.ACME.Enabled)},
		{"Admin allowed IPs", len(cfg.Server.AdminAllowedIPs)},
		{"Trusted proxies", len(cfg.Server.TrustedProxies)},
		{"Database", cfg.Database.Driver},
		{"Webhook path", cfg.Webhook.Path},
		{"Enforce expiry", cfg.Webhook.EnforceExpiry},
		{"Rate limit", rateLimit},
		{"Expiry sweeper", fmt.Sprintf("%v (%s)", cfg.Sweeper.Enabled, cfg.Sweeper.Schedule)},
		{"Retention", fmt.Sprintf("%v (logs %d days, audit %d days)", cfg.Retention.Enabled, cfg.Retention.LogsDays, cfg.Retention.AuditDays)},
		{"OIDC auth", cfg.Auth.OIDC.Enabled},
		{"Chat completions", cfg.Chat.Enabled && cfg.Chat.APIKey != ""},
		{"Metrics", fmt.Sprintf("%v (%s%s)", cfg.Metrics.Enabled, cfg.Metrics.ListenAddr, cfg.Metrics.Path)},
	}
	for _, row := range rows {
		if err := table.Append(row...); err != nil {
			return err
		}
	}
	return table.Render()
}
