package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/letterbox/internal/delivery"
)

// initOptions are the answers collected by the init wizard
type initOptions struct {
	Output        string
	DataDir       string
	APIKey        string
	EncryptionKey string
	Relay         string
	RelayUser     string
	RelayPass     string
	Domain        string
	DKIM          bool
	DKIMKeyPath   string
	Force         bool
}

var initOpts initOptions

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Letterbox configuration",
	Long: `Interactive wizard to create a Letterbox configuration file.

This command helps you set up Letterbox by:
  1. Creating a configuration file with a generated API key
  2. Optionally generating a DKIM key for the sender domain
  3. Showing the DNS record to publish

Examples:
  # Interactive mode - prompts for missing values
  letterbox init

  # Non-interactive, log-only delivery for local testing
  letterbox init --data-dir ./data --relay "" -o dev.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOpts.Output, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initOpts.DataDir, "data-dir", "/var/lib/letterbox", "Data directory for the database and keys")
	initCmd.Flags().StringVar(&initOpts.APIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initOpts.Relay, "relay", "", "SMTP relay host:port (empty = log only)")
	initCmd.Flags().StringVar(&initOpts.RelayUser, "relay-user", "", "SMTP relay username")
	initCmd.Flags().StringVar(&initOpts.RelayPass, "relay-pass", "", "SMTP relay password")
	initCmd.Flags().StringVar(&initOpts.Domain, "domain", "", "Sender domain, used for DKIM")
	initCmd.Flags().BoolVar(&initOpts.DKIM, "dkim", false, "Generate a DKIM key for the sender domain")
	initCmd.Flags().BoolVar(&initOpts.Force, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)
	opts := &initOpts

	fmt.Println("Letterbox Configuration Wizard")
	fmt.Println("==============================")
	fmt.Println()

	if !cmd.Flags().Changed("data-dir") {
		opts.DataDir = prompt(reader, "Data directory", opts.DataDir)
	}
	if !cmd.Flags().Changed("relay") {
		opts.Relay = prompt(reader, "SMTP relay host:port (empty = log only)", "")
	}
	if opts.Relay != "" && opts.RelayUser == "" {
		opts.RelayUser = prompt(reader, "SMTP relay username", "")
	}
	if opts.Relay != "" && opts.RelayUser != "" && opts.RelayPass == "" {
		opts.RelayPass = prompt(reader, "SMTP relay password", "")
	}

	if !opts.DKIM && opts.Relay != "" {
		answer := prompt(reader, "Generate DKIM key? [y/N]", "n")
		opts.DKIM = strings.ToLower(answer) == "y" || strings.ToLower(answer) == "yes"
	}
	if opts.DKIM && opts.Domain == "" {
		opts.Domain = prompt(reader, "Sender domain (e.g., example.com)", "")
		if opts.Domain == "" {
			return fmt.Errorf("domain is required for DKIM")
		}
	}

	if opts.APIKey == "" {
		opts.APIKey = generateRandomString(32)
		fmt.Printf("  Generated API key: %s\n", opts.APIKey)
	}
	opts.EncryptionKey = generateRandomString(32)

	if !opts.Force {
		if _, err := os.Stat(opts.Output); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", opts.Output)
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	var dkimName, dkimRecord string
	if opts.DKIM {
		opts.DKIMKeyPath = filepath.Join(opts.DataDir, "dkim", opts.Domain+".key")
		var err error
		dkimName, dkimRecord, err = delivery.GenerateDKIMKey(opts.DKIMKeyPath, opts.Domain, "letterbox")
		if err != nil {
			return fmt.Errorf("failed to generate DKIM key: %w", err)
		}
		fmt.Printf("  DKIM key saved to: %s\n", opts.DKIMKeyPath)
	}

	if err := os.WriteFile(opts.Output, []byte(generateConfig(opts)), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Printf("  Configuration saved to: %s\n", opts.Output)
	fmt.Println()

	if dkimName != "" {
		fmt.Println("DNS Record to Add")
		fmt.Println("=================")
		fmt.Printf("  Name:  %s\n", dkimName)
		fmt.Printf("  Type:  TXT\n")
		fmt.Printf("  Value: %s\n", dkimRecord)
		fmt.Println()
	}

	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Printf("  1. Validate:  letterbox config validate -c %s\n", opts.Output)
	fmt.Printf("  2. Sender:    letterbox settings set SENDER_EMAIL news@example.com -c %s\n", opts.Output)
	fmt.Printf("  3. Start:     letterbox serve -c %s\n", opts.Output)

	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig(opts *initOptions) string {
	dkimSection := `  dkim:
    enabled: false
    # selector: "letterbox"
    # domain: "example.com"
    # key_file: "` + opts.DataDir + `/dkim/example.com.key"`
	if opts.DKIMKeyPath != "" {
		dkimSection = fmt.Sprintf(`  dkim:
    enabled: true
    selector: "letterbox"
    domain: "%s"
    key_file: "%s"`, opts.Domain, opts.DKIMKeyPath)
	}

	return fmt.Sprintf(`# Letterbox configuration
# Generated by: letterbox init

api:
  listen_addr: ":8080"
  api_key: "%s"
  cors_origins: []          # Dashboard origins, e.g. http://localhost:5173
  max_header_bytes: 1048576 # 1 MB
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s
  allowed_ips: []           # IPs/CIDRs allowed to call /api/v1, empty = all
  trusted_proxies: []       # Proxies whose X-Forwarded-For is honoured

storage:
  path: "%s/letterbox.db"

settings:
  backend: bolt             # bolt, redis, memory
  encryption_key: "%s"
  # redis_addr: "localhost:6379"
  # redis_prefix: "letterbox:"

generation:
  provider: template        # template, openai
  delay: 2s
  # openai_url: "https://api.openai.com/v1"
  # model: "gpt-4o-mini"

mailchimp:
  sync_members: false

delivery:
  enabled: true
  workers: 2
  retry_interval: 5m
  max_retries: 5
  process_interval: 10s
  smtp:
    addr: "%s"
    username: "%s"
    password: "%s"
    tls: starttls           # starttls, implicit, none
%s
  rate_limit:
    enabled: false
    global:
      messages_per_hour: 1000
      messages_per_day: 10000
    recipient_domain:
      messages_per_hour: 200

metrics:
  enabled: false
  listen_addr: ":9090"
  path: "/metrics"
  allowed_ips:
    - "127.0.0.1"
  trusted_proxies: []

logging:
  level: "info"
  format: "json"

seed_archive: true
seed_audience: false
`,
		opts.APIKey,
		opts.DataDir,
		opts.EncryptionKey,
		opts.Relay,
		opts.RelayUser,
		opts.RelayPass,
		dkimSection,
	)
}
