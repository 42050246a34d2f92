package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long:  `Print the configuration resolved from the environment, .env files and flags. The auth token is masked.`,
	RunE:  runConfigShow,
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	shown := *cfg
	if shown.AuthToken != "" {
		shown.AuthToken = "********"
	}
	view := map[string]any{
		"api_url":        shown.APIURL,
		"realtime_url":   shown.RealtimeURL(),
		"auth_token":     shown.AuthToken,
		"user_id":        shown.UserID,
		"user_role":      shown.UserRole,
		"cache_backend":  shown.CacheBackend,
		"cache_dir":      shown.CacheDir,
		"ack_timeout":    shown.DeliveryAckTimeout.String(),
		"typing_ttl":     shown.TypingIndicatorTTL.String(),
		"upload_max":     shown.UploadMaxBytes,
		"reconnect":      map[string]any{"attempts": shown.ReconnectAttempts, "delay": shown.ReconnectDelay.String()},
		"metrics_addr":   shown.MetricsAddr,
		"tracing":        map[string]any{"enabled": shown.EnableTracing, "endpoint": shown.OTLPEndpoint, "sample_ratio": shown.TraceSampleRatio},
		"log_level":      shown.LogLevel,
		"log_content":    shown.LogContent,
		"service_name":   shown.ServiceName,
		"environment":    shown.Environment,
		"store_breaker":  map[string]any{"failures": shown.StoreBreakerFailures, "cooldown": shown.StoreBreakerCooldown.String()},
		"http_timeout":   shown.HTTPTimeout.String(),
		"typing_idle":    shown.TypingIdleTimeout.String(),
		"dial_timeout":   shown.DialTimeout.String(),
		"cache_mem_size": shown.CacheMemorySize,
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(view)
}
