package draft

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/letterbox/internal/delivery"
	"github.com/foxzi/letterbox/internal/generate"
	"github.com/foxzi/letterbox/internal/render"
)

// previewLength is the number of characters archived as the preview
const previewLength = 120

// Deps are the collaborators of a workflow
type Deps struct {
	Generator generate.Generator
	Renderer  *render.Renderer
	Archive   Archive
	Audience  Audience
	Settings  SettingsLoader
	Outbox    Outbox
	Logger    *slog.Logger
}

// Workflow drives a single draft through generation, editing, saving and
// sending. It is safe for concurrent use; only one generation runs at a time.
type Workflow struct {
	mu         sync.Mutex
	deps       *Deps
	draft      Draft
	sentRecord int64 // archive entry of a send whose enqueue failed
	logger     *slog.Logger
	now        func() time.Time
}

// NewWorkflow creates an idle workflow
func NewWorkflow(id string, deps *Deps) *Workflow {
	now := time.Now()
	return &Workflow{
		deps: deps,
		draft: Draft{
			ID:        id,
			State:     StateIdle,
			CreatedAt: now,
			UpdatedAt: now,
		},
		logger: deps.Logger.With("draft_id", id),
		now:    time.Now,
	}
}

// Snapshot returns a copy of the current draft
func (w *Workflow) Snapshot() Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft
}

// Generate produces content for prompt. The lock is not held while the
// generator runs, so the draft can be read during generation.
func (w *Workflow) Generate(ctx context.Context, prompt string) (*Draft, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrPromptRequired
	}

	w.mu.Lock()
	switch w.draft.State {
	case StateGenerating:
		w.mu.Unlock()
		return nil, ErrBusy
	case StateSent:
		w.mu.Unlock()
		return nil, ErrAlreadySent
	}
	prev := w.draft.State
	w.draft.State = StateGenerating
	w.draft.Prompt = prompt
	w.touch()
	w.mu.Unlock()

	w.logger.Info("generating content", "prompt_length", len(prompt))
	content, err := w.deps.Generator.Generate(ctx, prompt)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.draft.State = prev
		w.touch()
		w.logger.Warn("content generation failed", "error", err)
		return nil, err
	}

	w.draft.GeneratedContent = content.Body
	w.draft.SubjectLine = content.SubjectLine
	w.draft.CallToAction = content.CallToAction
	w.draft.State = StateGenerated
	w.touch()

	w.logger.Info("content generated", "subject", content.SubjectLine)
	d := w.draft
	return &d, nil
}

// Edit overwrites one field of generated content. Editing a saved draft
// returns it to the generated state.
func (w *Workflow) Edit(field, value string) (*Draft, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var target *string
	switch strings.ToLower(field) {
	case FieldSubject, "subjectline":
		target = &w.draft.SubjectLine
	case FieldBody, "content", "generatedcontent":
		target = &w.draft.GeneratedContent
	case FieldCTA, "calltoaction":
		target = &w.draft.CallToAction
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	if w.draft.State != StateGenerated && w.draft.State != StateSaved {
		return nil, ErrNotEditable
	}

	*target = value
	w.draft.State = StateGenerated
	w.touch()

	d := w.draft
	return &d, nil
}

// SaveDraft archives the draft. Repeated saves update the same record.
func (w *Workflow) SaveDraft(ctx context.Context) (*Draft, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkSendable(); err != nil {
		return nil, err
	}

	if w.draft.ArchiveID == 0 {
		rec, err := w.deps.Archive.RecordDraft(ctx, w.draft.ID, w.draft.SubjectLine, w.preview())
		if err != nil {
			return nil, err
		}
		w.draft.ArchiveID = rec.ID
	} else if _, err := w.deps.Archive.UpdateDraft(ctx, w.draft.ArchiveID, w.draft.SubjectLine, w.preview()); err != nil {
		return nil, err
	}

	w.draft.State = StateSaved
	w.touch()
	w.logger.Info("draft saved", "archive_id", w.draft.ArchiveID)

	d := w.draft
	return &d, nil
}

// Send renders the newsletter, queues one email per subscribed recipient and
// archives the send. A sent draft is final.
func (w *Workflow) Send(ctx context.Context) (*Draft, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkSendable(); err != nil {
		return nil, err
	}
	if w.deps.Outbox == nil {
		return nil, ErrDeliveryDisabled
	}

	blob, err := w.deps.Settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(blob.SenderEmail) == "" {
		return nil, ErrSenderRequired
	}

	recipients, err := w.deps.Audience.Recipients(ctx)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	result, err := w.deps.Renderer.Render(render.Newsletter{
		Subject:      w.draft.SubjectLine,
		Body:         w.draft.GeneratedContent,
		CallToAction: w.draft.CallToAction,
	})
	if err != nil {
		return nil, err
	}

	// The archive entry is created once; a retried send after an enqueue
	// failure reuses it.
	if w.sentRecord == 0 {
		rec, err := w.deps.Archive.RecordSent(ctx, w.draft.ID, w.draft.SubjectLine, w.preview(), len(recipients))
		if err != nil {
			return nil, err
		}
		w.sentRecord = rec.ID
	}

	now := w.now()
	msgs := make([]*delivery.Message, 0, len(recipients))
	for _, sub := range recipients {
		data := render.BuildMessage(render.Envelope{
			FromName:  blob.SenderName,
			FromEmail: blob.SenderEmail,
			To:        sub.Email,
			Headers: map[string]string{
				"List-Unsubscribe": fmt.Sprintf("<mailto:%s?subject=unsubscribe>", blob.SenderEmail),
			},
		}, result, now)

		msgs = append(msgs, &delivery.Message{
			ID:           uuid.New().String(),
			NewsletterID: w.sentRecord,
			DraftID:      w.draft.ID,
			From:         blob.SenderEmail,
			To:           sub.Email,
			Data:         data,
			CreatedAt:    now,
		})
	}

	if err := w.deps.Outbox.Enqueue(ctx, msgs...); err != nil {
		w.logger.Error("failed to queue newsletter", "error", err, "newsletter_id", w.sentRecord)
		return nil, fmt.Errorf("failed to queue newsletter: %w", err)
	}

	w.draft.State = StateSent
	w.draft.ArchiveID = w.sentRecord
	w.draft.Recipients = len(recipients)
	w.touch()

	w.logger.Info("newsletter queued", "newsletter_id", w.sentRecord, "recipients", len(recipients))

	d := w.draft
	return &d, nil
}

func (w *Workflow) checkSendable() error {
	switch w.draft.State {
	case StateSent:
		return ErrAlreadySent
	case StateGenerating:
		return ErrBusy
	}
	if !w.draft.HasContent() {
		return ErrNoContent
	}
	return nil
}

func (w *Workflow) preview() string {
	return w.deps.Renderer.Preview(w.draft.GeneratedContent, previewLength)
}

func (w *Workflow) touch() {
	w.draft.UpdatedAt = w.now()
}
