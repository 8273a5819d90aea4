package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	draftSubject string
	draftCTA     string
	draftSave    bool
	draftSend    bool
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Compose newsletters",
}

var draftGenerateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate a newsletter from a prompt",
	Long: `Generate a newsletter from a prompt and print it. The subject line and
call-to-action can be overridden before the draft is saved or sent.

Examples:
  letterbox draft generate "spring product launch" -c config.yaml
  letterbox draft generate "spring product launch" --subject "Spring is here" --send`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDraftGenerate,
}

func init() {
	draftGenerateCmd.Flags().StringVar(&draftSubject, "subject", "", "Override the generated subject line")
	draftGenerateCmd.Flags().StringVar(&draftCTA, "cta", "", "Override the generated call-to-action")
	draftGenerateCmd.Flags().BoolVar(&draftSave, "save", false, "Save the newsletter as a draft in the archive")
	draftGenerateCmd.Flags().BoolVar(&draftSend, "send", false, "Queue the newsletter for every subscribed recipient")

	draftCmd.AddCommand(draftGenerateCmd)
	rootCmd.AddCommand(draftCmd)
}

func runDraftGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	wf := s.Drafts.Create()
	fmt.Fprintln(os.Stderr, "Generating...")
	d, err := wf.Generate(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	if draftSubject != "" {
		if d, err = wf.Edit("subject", draftSubject); err != nil {
			return err
		}
	}
	if draftCTA != "" {
		if d, err = wf.Edit("cta", draftCTA); err != nil {
			return err
		}
	}

	fmt.Printf("Subject: %s\n\n%s\n\n> %s\n", d.SubjectLine, d.GeneratedContent, d.CallToAction)

	if draftSave {
		if d, err = wf.SaveDraft(ctx); err != nil {
			return err
		}
		fmt.Printf("\nSaved as draft #%d\n", d.ArchiveID)
	}
	if draftSend {
		if d, err = wf.Send(ctx); err != nil {
			return err
		}
		fmt.Printf("\nNewsletter #%d queued for %d recipients\n", d.ArchiveID, d.Recipients)
	}
	return nil
}
