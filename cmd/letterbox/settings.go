package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/letterbox/internal/settings"
)

var settingsReveal bool

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Provider credentials and sender identity",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored settings (API keys masked)",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one setting",
	Long: `Set one setting. Keys: ` + strings.Join(settings.Keys(), ", ") + `.
An empty value clears the setting.`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsTestCmd = &cobra.Command{
	Use:   "test <openai|mailchimp>",
	Short: "Test the stored credentials of a provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsTest,
}

func init() {
	settingsShowCmd.Flags().BoolVar(&settingsReveal, "reveal", false, "Show API keys in full")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsTestCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	blob, err := s.Settings.Load(ctx)
	if err != nil {
		return err
	}
	if !settingsReveal {
		masked := blob.Masked()
		blob = &masked
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\n", settings.KeyOpenAIAPIKey, orUnset(blob.OpenAIAPIKey))
	fmt.Fprintf(w, "%s\t%s\n", settings.KeyMailchimpAPIKey, orUnset(blob.MailchimpAPIKey))
	fmt.Fprintf(w, "%s\t%s\n", settings.KeyMailchimpAudienceID, orUnset(blob.MailchimpAudienceID))
	fmt.Fprintf(w, "%s\t%s\n", settings.KeySenderName, orUnset(blob.SenderName))
	fmt.Fprintf(w, "%s\t%s\n", settings.KeySenderEmail, orUnset(blob.SenderEmail))
	return w.Flush()
}

func orUnset(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}

// runSettingsSet loads the stored settings, changes one field and saves
// them all back.
func runSettingsSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	blob, err := s.Settings.Load(ctx)
	if err != nil {
		return err
	}
	if err := blob.Set(args[0], args[1]); err != nil {
		return err
	}
	if err := s.Settings.Save(ctx, blob); err != nil {
		return err
	}

	fmt.Printf("%s updated\n", args[0])
	return nil
}

func runSettingsTest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.Settings.TestConnection(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s (%dms)\n", result.Service, result.Status, result.LatencyMS)
	if result.Message != "" {
		fmt.Printf("  %s\n", result.Message)
	}
	if !result.OK() {
		return fmt.Errorf("connection test failed")
	}
	return nil
}
