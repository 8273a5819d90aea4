package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/letterbox/internal/archive"
	"github.com/foxzi/letterbox/internal/config"
	"github.com/foxzi/letterbox/internal/delivery"
	"github.com/foxzi/letterbox/internal/draft"
	"github.com/foxzi/letterbox/internal/generate"
	"github.com/foxzi/letterbox/internal/kv"
	"github.com/foxzi/letterbox/internal/render"
	"github.com/foxzi/letterbox/internal/settings"
	"github.com/foxzi/letterbox/internal/subscriber"
)

// mockOutbox keeps enqueued messages in memory
type mockOutbox struct {
	mu       sync.Mutex
	messages map[string]*delivery.Message
	order    []string
}

func newMockOutbox() *mockOutbox {
	return &mockOutbox{messages: make(map[string]*delivery.Message)}
}

func (m *mockOutbox) Enqueue(ctx context.Context, msgs ...*delivery.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		msg.Status = delivery.StatusPending
		m.messages[msg.ID] = msg
		m.order = append(m.order, msg.ID)
	}
	return nil
}

func (m *mockOutbox) Get(ctx context.Context, id string) (*delivery.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[id], nil
}

func (m *mockOutbox) List(ctx context.Context, filter delivery.ListFilter) ([]*delivery.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*delivery.Message
	for _, id := range m.order {
		msg := m.messages[id]
		if filter.Status != "" && msg.Status != filter.Status {
			continue
		}
		result = append(result, msg)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (m *mockOutbox) Stats(ctx context.Context) (*delivery.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &delivery.Stats{Total: int64(len(m.messages))}
	for _, msg := range m.messages {
		switch msg.Status {
		case delivery.StatusPending:
			stats.Pending++
		case delivery.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *mockOutbox) Retry(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return fmt.Errorf("%w: %s", delivery.ErrMessageNotFound, id)
	}
	if msg.Status != delivery.StatusFailed {
		return fmt.Errorf("%w: %s", delivery.ErrNotRetryable, id)
	}
	msg.Status = delivery.StatusPending
	return nil
}

type testEnv struct {
	server   *Server
	audience *subscriber.Service
	archive  *archive.Service
	settings *settings.Service
	outbox   *mockOutbox
}

func setupTestServer(t *testing.T, apiKey string) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen, err := generate.NewTemplateGenerator(0)
	if err != nil {
		t.Fatalf("NewTemplateGenerator() error = %v", err)
	}

	env := &testEnv{
		audience: subscriber.NewService(subscriber.NewMemoryStore(), logger),
		archive:  archive.NewService(archive.NewMemoryStore(), logger),
		settings: settings.NewService(kv.NewMemory(), logger),
		outbox:   newMockOutbox(),
	}

	drafts := draft.NewManager(&draft.Deps{
		Generator: gen,
		Renderer:  render.New(),
		Archive:   env.archive,
		Audience:  env.audience,
		Settings:  env.settings,
		Outbox:    env.outbox,
		Logger:    logger,
	})

	cfg := &config.APIConfig{
		ListenAddr: ":8080",
		APIKey:     apiKey,
	}
	env.server = NewServer(Deps{
		Audience: env.audience,
		Archive:  env.archive,
		Settings: env.settings,
		Drafts:   drafts,
		Outbox:   env.outbox,
		Version:  "test",
	}, cfg, logger)
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decode[HealthResponse](t, w)
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want %q", resp.Status, "ok")
	}
	if resp.Version != "test" {
		t.Errorf("Version = %q, want %q", resp.Version, "test")
	}
}

func TestAuthRequired(t *testing.T) {
	env := setupTestServer(t, "secret-key")

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"no key", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer secret-key", http.StatusOK},
		{"x-api-key", "X-API-Key", "secret-key", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/audience/counts", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			env.server.router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	env := setupTestServer(t, "secret-key")

	w := env.do("POST", "/api/v1/login", `{"apiKey":"secret-key"}`)
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	w = env.do("POST", "/api/v1/login", `{"apiKey":"wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = env.do("POST", "/api/v1/login", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAudienceEndpoints(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("POST", "/api/v1/audience", `{"email":" jane@example.com ","name":"Jane"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	sub := decode[subscriber.Subscriber](t, w)
	if sub.Email != "jane@example.com" {
		t.Errorf("Email = %q, want %q", sub.Email, "jane@example.com")
	}
	if sub.Status != subscriber.StatusSubscribed {
		t.Errorf("Status = %q, want %q", sub.Status, subscriber.StatusSubscribed)
	}

	w = env.do("POST", "/api/v1/audience", `{"email":"jane@example.com"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate Status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = env.do("POST", "/api/v1/audience", `{"email":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do("POST", "/api/v1/audience", `{"email":"eve@example.com\r\nBcc: all@example.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("control characters Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	env.do("POST", "/api/v1/audience", `{"email":"bob@example.com"}`)

	w = env.do("GET", "/api/v1/audience?q=JANE", "")
	list := decode[SubscribersResponse](t, w)
	if len(list.Subscribers) != 1 {
		t.Fatalf("len(Subscribers) = %d, want 1", len(list.Subscribers))
	}
	if list.Counts.Total != 2 {
		t.Errorf("Counts.Total = %d, want 2", list.Counts.Total)
	}

	w = env.do("PUT", fmt.Sprintf("/api/v1/audience/%d/status", sub.ID), `{"status":"unsubscribed"}`)
	if w.Code != http.StatusOK {
		t.Errorf("set status Status = %d, want %d", w.Code, http.StatusOK)
	}

	w = env.do("PUT", fmt.Sprintf("/api/v1/audience/%d/status", sub.ID), `{"status":"bogus"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid status Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do("GET", "/api/v1/audience/counts", "")
	counts := decode[subscriber.Counts](t, w)
	if counts.Subscribed != 1 || counts.Unsubscribed != 1 {
		t.Errorf("Counts = %+v, want 1 subscribed and 1 unsubscribed", counts)
	}

	w = env.do("DELETE", fmt.Sprintf("/api/v1/audience/%d", sub.ID), "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete Status = %d, want %d", w.Code, http.StatusNoContent)
	}
	w = env.do("DELETE", fmt.Sprintf("/api/v1/audience/%d", sub.ID), "")
	if w.Code != http.StatusNoContent {
		t.Errorf("second delete Status = %d, want %d", w.Code, http.StatusNoContent)
	}

	w = env.do("DELETE", "/api/v1/audience/abc", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAudienceImportExport(t *testing.T) {
	env := setupTestServer(t, "")

	csvData := "email,name\nann@example.com,Ann\n,Nobody\nann@example.com,Dup\n"
	req := httptest.NewRequest("POST", "/api/v1/audience/import", strings.NewReader(csvData))
	req.Header.Set("Content-Type", "text/csv")
	w := httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	result := decode[subscriber.ImportResult](t, w)
	if result.Imported != 1 {
		t.Errorf("Imported = %d, want 1", result.Imported)
	}
	if result.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", result.Skipped)
	}

	w = env.do("GET", "/api/v1/audience/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "attachment") {
		t.Errorf("Content-Disposition = %q, want attachment", w.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(w.Body.String(), "ann@example.com") {
		t.Errorf("export body missing subscriber: %s", w.Body.String())
	}
}

func TestAudienceImportTooLarge(t *testing.T) {
	env := setupTestServer(t, "")

	body := "email,name\n" + strings.Repeat("x", maxImportSize+1)
	req := httptest.NewRequest("POST", "/api/v1/audience/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/csv")
	w := httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusRequestEntityTooLarge, w.Body.String())
	}

	counts, _ := env.audience.Counts(context.Background())
	if counts.Total != 0 {
		t.Errorf("Total = %d, want 0", counts.Total)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := setupTestServer(t, "")
	ctx := context.Background()

	if _, err := env.archive.Seed(ctx, archive.SampleRecords()); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	w := env.do("GET", "/api/v1/history", "")
	records := decode[[]*archive.Record](t, w)
	if len(records) != len(archive.SampleRecords()) {
		t.Errorf("len(records) = %d, want %d", len(records), len(archive.SampleRecords()))
	}

	w = env.do("GET", "/api/v1/history/stats", "")
	stats := decode[archive.Stats](t, w)
	if stats.TotalSent == 0 {
		t.Error("TotalSent = 0, want > 0")
	}

	w = env.do("GET", fmt.Sprintf("/api/v1/history/%d", records[0].ID), "")
	if w.Code != http.StatusOK {
		t.Errorf("get Status = %d, want %d", w.Code, http.StatusOK)
	}

	w = env.do("GET", "/api/v1/history/9999", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDashboard(t *testing.T) {
	env := setupTestServer(t, "")
	ctx := context.Background()

	env.archive.Seed(ctx, archive.SampleRecords())
	env.audience.Add(ctx, "a@example.com", "A")

	w := env.do("GET", "/api/v1/dashboard", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decode[DashboardResponse](t, w)
	if resp.TotalNewsletters != len(archive.SampleRecords()) {
		t.Errorf("TotalNewsletters = %d, want %d", resp.TotalNewsletters, len(archive.SampleRecords()))
	}
	if resp.Subscribers != 1 {
		t.Errorf("Subscribers = %d, want 1", resp.Subscribers)
	}
	if len(resp.Recent) != recentCount {
		t.Fatalf("len(Recent) = %d, want %d", len(resp.Recent), recentCount)
	}
	for i := 1; i < len(resp.Recent); i++ {
		if resp.Recent[i-1].SentDate < resp.Recent[i].SentDate {
			t.Errorf("Recent not newest first: %s before %s", resp.Recent[i-1].SentDate, resp.Recent[i].SentDate)
		}
	}
	if resp.Outbox == nil {
		t.Error("Outbox = nil, want stats")
	}
}

func TestSettingsEndpoints(t *testing.T) {
	env := setupTestServer(t, "")

	body := `{"openaiApiKey":"sk-1234567890","mailchimpApiKey":"","mailchimpAudienceId":"list1","senderName":"News","senderEmail":"news@example.com"}`
	w := env.do("PUT", "/api/v1/settings", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	w = env.do("GET", "/api/v1/settings", "")
	blob := decode[settings.Blob](t, w)
	if blob.OpenAIAPIKey != "sk-1234567890" {
		t.Errorf("OpenAIAPIKey = %q, want full key", blob.OpenAIAPIKey)
	}
	if blob.SenderEmail != "news@example.com" {
		t.Errorf("SenderEmail = %q, want %q", blob.SenderEmail, "news@example.com")
	}

	w = env.do("GET", "/api/v1/settings?masked=true", "")
	masked := decode[settings.Blob](t, w)
	if masked.OpenAIAPIKey == "sk-1234567890" {
		t.Error("masked OpenAIAPIKey exposes the full key")
	}
	if !strings.HasSuffix(masked.OpenAIAPIKey, "7890") {
		t.Errorf("masked OpenAIAPIKey = %q, want suffix 7890", masked.OpenAIAPIKey)
	}

	w = env.do("POST", "/api/v1/settings/test/unknown", "")
	result := decode[settings.ConnectionResult](t, w)
	if result.Status != settings.StatusUnsupported {
		t.Errorf("Status = %q, want %q", result.Status, settings.StatusUnsupported)
	}
}

func TestDraftWorkflow(t *testing.T) {
	env := setupTestServer(t, "")
	ctx := context.Background()

	env.settings.Save(ctx, &settings.Blob{SenderName: "News", SenderEmail: "news@example.com"})
	env.audience.Add(ctx, "a@example.com", "A")
	env.audience.Add(ctx, "b@example.com", "B")

	w := env.do("POST", "/api/v1/drafts", `{"prompt":"spring sale"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create Status = %d, want %d. Body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	d := decode[draft.Draft](t, w)
	if d.State != draft.StateGenerated {
		t.Errorf("State = %q, want %q", d.State, draft.StateGenerated)
	}
	if !strings.Contains(d.GeneratedContent, "spring sale") {
		t.Error("GeneratedContent does not contain the prompt")
	}

	w = env.do("PATCH", "/api/v1/drafts/"+d.ID, `{"field":"subject","value":"Spring Sale"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("edit Status = %d, want %d", w.Code, http.StatusOK)
	}
	d = decode[draft.Draft](t, w)
	if d.SubjectLine != "Spring Sale" {
		t.Errorf("SubjectLine = %q, want %q", d.SubjectLine, "Spring Sale")
	}

	w = env.do("PATCH", "/api/v1/drafts/"+d.ID, `{"field":"footer","value":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown field Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do("POST", "/api/v1/drafts/"+d.ID+"/save", "")
	if w.Code != http.StatusOK {
		t.Fatalf("save Status = %d, want %d", w.Code, http.StatusOK)
	}

	w = env.do("POST", "/api/v1/drafts/"+d.ID+"/send", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("send Status = %d, want %d. Body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	d = decode[draft.Draft](t, w)
	if d.State != draft.StateSent {
		t.Errorf("State = %q, want %q", d.State, draft.StateSent)
	}
	if d.Recipients != 2 {
		t.Errorf("Recipients = %d, want 2", d.Recipients)
	}

	w = env.do("POST", "/api/v1/drafts/"+d.ID+"/send", "")
	if w.Code != http.StatusConflict {
		t.Errorf("resend Status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = env.do("GET", "/api/v1/outbox", "")
	msgs := decode[[]*MessageSummary](t, w)
	if len(msgs) != 2 {
		t.Errorf("len(outbox) = %d, want 2", len(msgs))
	}
}

func TestDraftErrors(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("POST", "/api/v1/drafts", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create Status = %d, want %d", w.Code, http.StatusCreated)
	}
	d := decode[draft.Draft](t, w)
	if d.State != draft.StateIdle {
		t.Errorf("State = %q, want %q", d.State, draft.StateIdle)
	}

	w = env.do("POST", "/api/v1/drafts/"+d.ID+"/generate", `{"prompt":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank prompt Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do("POST", "/api/v1/drafts/"+d.ID+"/save", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("save empty Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do("GET", "/api/v1/drafts/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing Status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = env.do("POST", "/api/v1/drafts/"+d.ID+"/generate", `{"prompt":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("generate Status = %d, want %d", w.Code, http.StatusOK)
	}

	w = env.do("POST", "/api/v1/drafts/"+d.ID+"/send", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("send without sender Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do("DELETE", "/api/v1/drafts/"+d.ID, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete Status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestOutboxEndpoints(t *testing.T) {
	env := setupTestServer(t, "")
	ctx := context.Background()

	env.outbox.Enqueue(ctx,
		&delivery.Message{ID: "m1", To: "a@example.com", Data: []byte("raw")},
		&delivery.Message{ID: "m2", To: "b@example.com", Data: []byte("raw")},
	)
	env.outbox.messages["m2"].Status = delivery.StatusFailed

	w := env.do("GET", "/api/v1/outbox?status=failed", "")
	msgs := decode[[]*MessageSummary](t, w)
	if len(msgs) != 1 || msgs[0].ID != "m2" {
		t.Fatalf("failed messages = %+v, want only m2", msgs)
	}

	w = env.do("GET", "/api/v1/outbox/stats", "")
	stats := decode[delivery.Stats](t, w)
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}

	w = env.do("GET", "/api/v1/outbox/m1", "")
	if w.Code != http.StatusOK {
		t.Errorf("get Status = %d, want %d", w.Code, http.StatusOK)
	}

	w = env.do("GET", "/api/v1/outbox/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing Status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = env.do("POST", "/api/v1/outbox/m1/retry", "")
	if w.Code != http.StatusConflict {
		t.Errorf("retry pending Status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = env.do("POST", "/api/v1/outbox/nope/retry", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("retry missing Status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = env.do("POST", "/api/v1/outbox/m2/retry", "")
	if w.Code != http.StatusOK {
		t.Errorf("retry failed Status = %d, want %d", w.Code, http.StatusOK)
	}
	if env.outbox.messages["m2"].Status != delivery.StatusPending {
		t.Errorf("m2 Status = %q, want %q", env.outbox.messages["m2"].Status, delivery.StatusPending)
	}
}

func TestNotFoundIsJSON(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("GET", "/api/v1/nothing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
	}
	resp := decode[ErrorResponse](t, w)
	if resp.Kind != "not_found" {
		t.Errorf("Kind = %q, want %q", resp.Kind, "not_found")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{subscriber.ErrDuplicateEmail, http.StatusConflict, "conflict"},
		{fmt.Errorf("wrap: %w", draft.ErrNoContent), http.StatusBadRequest, "validation"},
		{archive.ErrNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: m1", delivery.ErrMessageNotFound), http.StatusNotFound, "not_found"},
		{draft.ErrDeliveryDisabled, http.StatusBadRequest, "validation"},
		{&generate.Error{Kind: generate.KindRateLimited, Provider: "openai"}, http.StatusBadGateway, "upstream"},
		{&generate.Error{Kind: generate.KindNotConfigured, Provider: "openai"}, http.StatusBadRequest, "validation"},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, kind, _ := classify(tt.err)
			if status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
			if kind != tt.kind {
				t.Errorf("kind = %q, want %q", kind, tt.kind)
			}
		})
	}
}

func TestAllowedIPs(t *testing.T) {
	env := setupTestServer(t, "")
	env.server.config.AllowedIPs = []string{"10.0.0.0/8"}
	env.server.config.TrustedProxies = []string{"172.16.0.1"}
	env.server.router = chi.NewRouter()
	env.server.setupRoutes()

	tests := []struct {
		name       string
		path       string
		remoteAddr string
		xff        string
		want       int
	}{
		{"allowed", "/api/v1/audience/counts", "10.1.2.3:5000", "", http.StatusOK},
		{"denied", "/api/v1/audience/counts", "192.0.2.1:5000", "", http.StatusForbidden},
		{"spoofed header", "/api/v1/audience/counts", "192.0.2.1:5000", "10.1.2.3", http.StatusForbidden},
		{"trusted proxy", "/api/v1/audience/counts", "172.16.0.1:5000", "10.1.2.3", http.StatusOK},
		{"trusted proxy forwarding outsider", "/api/v1/audience/counts", "172.16.0.1:5000", "192.0.2.1", http.StatusForbidden},
		{"health unfiltered", "/health", "192.0.2.1:5000", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			w := httptest.NewRecorder()
			env.server.router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
