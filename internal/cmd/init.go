package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quorumhq/quorum/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter config file with fresh secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = "quorum.json"
			}
			force, _ := cmd.Flags().GetBool("force")
			return writeStarterConfig(output, force)
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: ./quorum.json)")
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	return cmd
}

func writeStarterConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	jwtSecret, err := config.GenerateRandomSecret()
	if err != nil {
		return fmt.Errorf("generate jwt secret: %w", err)
	}
	hmacSecret, err := config.GenerateRandomSecret()
	if err != nil {
		return fmt.Errorf("generate hmac secret: %w", err)
	}

	cfg := config.Config{
		Server: config.ServerConfig{
			Addr:           ":8090",
			AllowedOrigins: []string{"*"},
		},
		Auth: config.AuthConfig{
			JWTSecret:  jwtSecret,
			JWTExpiry:  config.Duration{Duration: 24 * time.Hour},
			HMACSecret: hmacSecret,
		},
		Upstream: config.UpstreamConfig{
			MainServerEndpoint: "http://localhost:8000",
			InteractTimeout:    config.Duration{Duration: 30 * time.Second},
		},
		Oracle: config.OracleConfig{
			Backend: "openai",
			APIKey:  os.Getenv("OPENAI_API_KEY"),
		},
		Storage: config.StorageConfig{
			Driver: "sqlite",
			DSN:    "quorum.db",
		},
		Logging: config.LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("wrote %s with freshly generated secrets\n", path)
	fmt.Println("share auth.hmac_secret with the main server and the worker agents")
	return nil
}
