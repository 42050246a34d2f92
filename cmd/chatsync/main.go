package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/edumarket/chatsync/internal/config"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "chatsync - conversation client for the tutoring marketplace",
	Long: `chatsync keeps a student or tutor conversation in sync with the
marketplace backend: history from the message store, live delivery over the
realtime channel and a local cache for offline reads.

Configuration is read from the environment (and .env files).

Examples:
  # List conversations, newest first
  chatsync conversations

  # Chat with tutor profile 5 as student 10
  USER_ID=10 chatsync chat 5`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("cache", "", "Override CACHE_BACKEND (memory, file, redis)")
	rootCmd.PersistentFlags().String("user", "", "Override USER_ID")
	rootCmd.PersistentFlags().String("role", "", "Override USER_ROLE (student, tutor)")
}

// loadConfig reads .env files, the environment and the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loadEnvFiles()

	overrides := map[string]string{
		"log-level": "LOG_LEVEL",
		"cache":     "CACHE_BACKEND",
		"user":      "USER_ID",
		"role":      "USER_ROLE",
	}
	for flag, envName := range overrides {
		value, _ := cmd.Flags().GetString(flag)
		if value == "" {
			continue
		}
		if err := os.Setenv(envName, value); err != nil {
			return nil, fmt.Errorf("apply --%s: %w", flag, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("USER_ID is required (set it or pass --user)")
	}
	return cfg, nil
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
