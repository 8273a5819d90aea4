package draft

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/letterbox/internal/archive"
	"github.com/foxzi/letterbox/internal/delivery"
	"github.com/foxzi/letterbox/internal/generate"
	"github.com/foxzi/letterbox/internal/kv"
	"github.com/foxzi/letterbox/internal/render"
	"github.com/foxzi/letterbox/internal/settings"
	"github.com/foxzi/letterbox/internal/subscriber"
)

// gatedGenerator blocks until release is closed
type gatedGenerator struct {
	started chan struct{}
	release chan struct{}
	err     error
}

func (g *gatedGenerator) Generate(ctx context.Context, prompt string) (*generate.Content, error) {
	if g.started != nil {
		close(g.started)
	}
	if g.release != nil {
		<-g.release
	}
	if g.err != nil {
		return nil, g.err
	}
	return &generate.Content{
		SubjectLine:  "Weekly: " + prompt,
		Body:         "# Hello\n\nThis week we cover " + prompt + ".",
		CallToAction: "Read more",
	}, nil
}

type fakeOutbox struct {
	mu   sync.Mutex
	msgs []*delivery.Message
	err  error
}

func (o *fakeOutbox) Enqueue(ctx context.Context, msgs ...*delivery.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, msgs...)
	return nil
}

type testEnv struct {
	deps     *Deps
	archive  *archive.Service
	audience *subscriber.Service
	settings *settings.Service
	outbox   *fakeOutbox
}

func newTestEnv(t *testing.T, gen generate.Generator) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	env := &testEnv{
		archive:  archive.NewService(archive.NewMemoryStore(), logger),
		audience: subscriber.NewService(subscriber.NewMemoryStore(), logger),
		settings: settings.NewService(kv.NewMemory(), logger),
		outbox:   &fakeOutbox{},
	}

	if err := env.settings.Save(ctx, &settings.Blob{SenderName: "Letterbox", SenderEmail: "news@example.com"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if _, err := env.audience.Add(ctx, email, ""); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	env.deps = &Deps{
		Generator: gen,
		Renderer:  render.New(),
		Archive:   env.archive,
		Audience:  env.audience,
		Settings:  env.settings,
		Outbox:    env.outbox,
		Logger:    logger,
	}
	return env
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t, &gatedGenerator{})
	wf := NewWorkflow("d1", env.deps)

	d, err := wf.Generate(context.Background(), "remote work")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if d.State != StateGenerated {
		t.Errorf("State = %v, want generated", d.State)
	}
	if d.SubjectLine != "Weekly: remote work" {
		t.Errorf("SubjectLine = %q", d.SubjectLine)
	}
	if d.Prompt != "remote work" {
		t.Errorf("Prompt = %q", d.Prompt)
	}
}

func TestGenerateBlankPrompt(t *testing.T) {
	env := newTestEnv(t, &gatedGenerator{})
	wf := NewWorkflow("d1", env.deps)

	for _, prompt := range []string{"", "   ", "\n\t"} {
		if _, err := wf.Generate(context.Background(), prompt); !errors.Is(err, ErrPromptRequired) {
			t.Errorf("Generate(%q) error = %v, want ErrPromptRequired", prompt, err)
		}
	}
	if s := wf.Snapshot().State; s != StateIdle {
		t.Errorf("State = %v, want idle", s)
	}
}

func TestGenerateBusy(t *testing.T) {
	gen := &gatedGenerator{started: make(chan struct{}), release: make(chan struct{})}
	env := newTestEnv(t, gen)
	wf := NewWorkflow("d1", env.deps)

	done := make(chan error, 1)
	go func() {
		_, err := wf.Generate(context.Background(), "first")
		done <- err
	}()
	<-gen.started

	if s := wf.Snapshot().State; s != StateGenerating {
		t.Errorf("State = %v, want generating", s)
	}
	if _, err := wf.Generate(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("second Generate() error = %v, want ErrBusy", err)
	}
	if _, err := wf.Edit(FieldSubject, "x"); !errors.Is(err, ErrNotEditable) {
		t.Errorf("Edit() during generation error = %v, want ErrNotEditable", err)
	}
	if _, err := wf.SaveDraft(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("SaveDraft() during generation error = %v, want ErrBusy", err)
	}

	close(gen.release)
	if err := <-done; err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}
	if d := wf.Snapshot(); d.Prompt != "first" || d.State != StateGenerated {
		t.Errorf("draft = %+v", d)
	}
}

func TestGenerateFailureRestoresState(t *testing.T) {
	gen := &gatedGenerator{}
	env := newTestEnv(t, gen)
	wf := NewWorkflow("d1", env.deps)
	ctx := context.Background()

	if _, err := wf.Generate(ctx, "topic"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	wf.SaveDraft(ctx)

	gen.err = &generate.Error{Kind: generate.KindRateLimited, Provider: "openai"}
	_, err := wf.Generate(ctx, "again")

	var genErr *generate.Error
	if !errors.As(err, &genErr) || genErr.Kind != generate.KindRateLimited {
		t.Fatalf("Generate() error = %v, want rate_limited", err)
	}
	d := wf.Snapshot()
	if d.State != StateSaved {
		t.Errorf("State = %v, want saved (previous state)", d.State)
	}
	if d.SubjectLine != "Weekly: topic" {
		t.Errorf("content changed on failure: %q", d.SubjectLine)
	}
}

func TestEdit(t *testing.T) {
	env := newTestEnv(t, &gatedGenerator{})
	wf := NewWorkflow("d1", env.deps)
	ctx := context.Background()

	if _, err := wf.Edit(FieldBody, "text"); !errors.Is(err, ErrNotEditable) {
		t.Errorf("Edit() on idle draft error = %v, want ErrNotEditable", err)
	}

	wf.Generate(ctx, "topic")

	tests := []struct {
		field string
		value string
		check func(d *Draft) string
	}{
		{FieldSubject, "New subject", func(d *Draft) string { return d.SubjectLine }},
		{FieldBody, "New body", func(d *Draft) string { return d.GeneratedContent }},
		{FieldCTA, "New CTA", func(d *Draft) string { return d.CallToAction }},
		{"callToAction", "Alias CTA", func(d *Draft) string { return d.CallToAction }},
	}
	for _, tt := range tests {
		d, err := wf.Edit(tt.field, tt.value)
		if err != nil {
			t.Fatalf("Edit(%s) error = %v", tt.field, err)
		}
		if got := tt.check(d); got != tt.value {
			t.Errorf("Edit(%s) = %q, want %q", tt.field, got, tt.value)
		}
	}

	if _, err := wf.Edit("footer", "x"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("Edit(footer) error = %v, want ErrUnknownField", err)
	}

	wf.SaveDraft(ctx)
	d, err := wf.Edit(FieldSubject, "After save")
	if err != nil {
		t.Fatalf("Edit() on saved draft error = %v", err)
	}
	if d.State != StateGenerated {
		t.Errorf("State = %v, want generated after editing a saved draft", d.State)
	}
}

func TestSaveDraft(t *testing.T) {
	env := newTestEnv(t, &gatedGenerator{})
	wf := NewWorkflow("d1", env.deps)
	ctx := context.Background()

	if _, err := wf.SaveDraft(ctx); !errors.Is(err, ErrNoContent) {
		t.Errorf("SaveDraft() without content error = %v, want ErrNoContent", err)
	}

	wf.Generate(ctx, "topic")
	for i := 0; i < 3; i++ {
		d, err := wf.SaveDraft(ctx)
		if err != nil {
			t.Fatalf("SaveDraft() error = %v", err)
		}
		if d.State != StateSaved || d.ArchiveID == 0 {
			t.Errorf("draft = %+v", d)
		}
	}

	records, _ := env.archive.List(ctx)
	if len(records) != 1 {
		t.Fatalf("archive has %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Status != archive.StatusDraft || rec.DraftID != "d1" || rec.Subject != "Weekly: topic" {
		t.Errorf("record = %+v", rec)
	}
	if !strings.HasPrefix(rec.Preview, "This week we cover topic") {
		t.Errorf("Preview = %q", rec.Preview)
	}
}

func TestSaveDraftAfterEdit(t *testing.T) {
	env := newTestEnv(t, &gatedGenerator{})
	wf := NewWorkflow("d1", env.deps)
	ctx := context.Background()

	wf.Generate(ctx, "topic")
	first, err := wf.SaveDraft(ctx)
	if err != nil {
		t.Fatalf("SaveDraft() error = %v", err)
	}

	if _, err := wf.Edit(FieldSubject, "Edited subject"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if _, err := wf.Edit(FieldBody, "New body text"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	second, err := wf.SaveDraft(ctx)
	if err != nil {
		t.Fatalf("second SaveDraft() error = %v", err)
	}
	if second.ArchiveID != first.ArchiveID {
		t.Errorf("ArchiveID = %d, want %d", second.ArchiveID, first.ArchiveID)
	}

	records, _ := env.archive.List(ctx)
	if len(records) != 1 {
		t.Fatalf("archive has %d records, want 1", len(records))
	}
	if records[0].Subject != "Edited subject" {
		t.Errorf("Subject = %q, want %q", records[0].Subject, "Edited subject")
	}
	if !strings.HasPrefix(records[0].Preview, "New body text") {
		t.Errorf("Preview = %q", records[0].Preview)
	}
}

func TestSend(t *testing.T) {
	env := newTestEnv(t, &gatedGenerator{})
	wf := NewWorkflow("d1", env.deps)
	ctx := context.Background()

	subs, _ := env.audience.List(ctx)
	env.audience.SetStatus(ctx, subs[2].ID, subscriber.StatusUnsubscribed)

	wf.Generate(ctx, "topic")
	d, err := wf.Send(ctx)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if d.State != StateSent || d.Recipients != 2 {
		t.Errorf("draft = %+v", d)
	}

	if len(env.outbox.msgs) != 2 {
		t.Fatalf("queued %d messages, want 2", len(env.outbox.msgs))
	}
	for _, msg := range env.outbox.msgs {
		if msg.From != "news@example.com" || msg.NewsletterID != d.ArchiveID || msg.DraftID != "d1" {
			t.Errorf("message = %+v", msg)
		}
		data := string(msg.Data)
		if !strings.Contains(data, "To: "+msg.To+"\r\n") {
			t.Errorf("message for %s missing To header", msg.To)
		}
		if !strings.Contains(data, "List-Unsubscribe: <mailto:news@example.com?subject=unsubscribe>") {
			t.Error("message missing List-Unsubscribe header")
		}
	}

	rec, err := env.archive.Get(ctx, d.ArchiveID)
	if err != nil {
		t.Fatalf("archive Get() error = %v", err)
	}
	if rec.Status != archive.StatusSent || rec.Recipients != 2 || rec.OpenRate != 0 {
		t.Errorf("record = %+v", rec)
	}

	if _, err := wf.Send(ctx); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("second Send() error = %v, want ErrAlreadySent", err)
	}
	if _, err := wf.Edit(FieldBody, "x"); !errors.Is(err, ErrNotEditable) {
		t.Errorf("Edit() after send error = %v, want ErrNotEditable", err)
	}
	if _, err := wf.Generate(ctx, "again"); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("Generate() after send error = %v, want ErrAlreadySent", err)
	}
}

func TestSendPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("no sender", func(t *testing.T) {
		env := newTestEnv(t, &gatedGenerator{})
		env.settings.Save(ctx, &settings.Blob{})
		wf := NewWorkflow("d1", env.deps)
		wf.Generate(ctx, "topic")

		if _, err := wf.Send(ctx); !errors.Is(err, ErrSenderRequired) {
			t.Errorf("Send() error = %v, want ErrSenderRequired", err)
		}
	})

	t.Run("no recipients", func(t *testing.T) {
		env := newTestEnv(t, &gatedGenerator{})
		subs, _ := env.audience.List(ctx)
		for _, s := range subs {
			env.audience.Remove(ctx, s.ID)
		}
		wf := NewWorkflow("d1", env.deps)
		wf.Generate(ctx, "topic")

		if _, err := wf.Send(ctx); !errors.Is(err, ErrNoRecipients) {
			t.Errorf("Send() error = %v, want ErrNoRecipients", err)
		}
		if records, _ := env.archive.List(ctx); len(records) != 0 {
			t.Errorf("archive has %d records, want 0", len(records))
		}
	})

	t.Run("delivery disabled", func(t *testing.T) {
		env := newTestEnv(t, &gatedGenerator{})
		env.deps.Outbox = nil
		wf := NewWorkflow("d1", env.deps)
		wf.Generate(ctx, "topic")

		if _, err := wf.Send(ctx); !errors.Is(err, ErrDeliveryDisabled) {
			t.Errorf("Send() error = %v, want ErrDeliveryDisabled", err)
		}
		if s := wf.Snapshot().State; s != StateGenerated {
			t.Errorf("State = %v, want generated", s)
		}
		if records, _ := env.archive.List(ctx); len(records) != 0 {
			t.Errorf("archive has %d records, want 0", len(records))
		}
	})
}

func TestSendRetryAfterEnqueueFailure(t *testing.T) {
	env := newTestEnv(t, &gatedGenerator{})
	wf := NewWorkflow("d1", env.deps)
	ctx := context.Background()
	wf.Generate(ctx, "topic")

	env.outbox.err = errors.New("disk full")
	if _, err := wf.Send(ctx); err == nil {
		t.Fatal("Send() expected error")
	}
	if s := wf.Snapshot().State; s != StateGenerated {
		t.Errorf("State = %v, want generated", s)
	}

	env.outbox.err = nil
	if _, err := wf.Send(ctx); err != nil {
		t.Fatalf("retried Send() error = %v", err)
	}

	records, _ := env.archive.List(ctx)
	if len(records) != 1 {
		t.Errorf("archive has %d records, want 1 after retry", len(records))
	}
}

func TestManager(t *testing.T) {
	env := newTestEnv(t, &gatedGenerator{})
	m := NewManager(env.deps)

	first := m.Create()
	time.Sleep(time.Millisecond)
	second := m.Create()

	got, err := m.Get(first.Snapshot().ID)
	if err != nil || got != first {
		t.Errorf("Get() = %v, %v", got, err)
	}

	list := m.List()
	if len(list) != 2 || list[0].ID != second.Snapshot().ID {
		t.Errorf("List() = %+v, want newest first", list)
	}

	if err := m.Delete(first.Snapshot().ID); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if _, err := m.Get(first.Snapshot().ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := m.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}
}
