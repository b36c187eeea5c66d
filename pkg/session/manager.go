package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/grillo/pkg/api"
	"github.com/go-go-golems/grillo/pkg/attachments"
	"github.com/go-go-golems/grillo/pkg/events"
	"github.com/go-go-golems/grillo/pkg/versions"
)

var (
	ErrManagerNil          = errors.New("session manager is nil")
	ErrCompleterNil        = errors.New("session manager has no completer")
	ErrGenerationActive    = errors.New("a generation is already active")
	ErrNothingToRegenerate = errors.New("no previous send to regenerate")
	ErrEmptyMessage        = errors.New("message text is empty")
)

// DefaultTitleLimit bounds the conversation title derived from the first
// message.
const DefaultTitleLimit = 50

// Completer is the orchestration surface the manager drives for network
// exchanges.
type Completer interface {
	Complete(ctx context.Context, req *api.CompletionRequest) (*api.CompletionReply, error)
	CompleteImage(ctx context.Context, req *api.ImageCompletionRequest) (*api.CompletionReply, error)
	CreateConversation(ctx context.Context, title string, model string) (string, error)
}

// Uploader resolves attachments before a message is considered sendable.
type Uploader interface {
	Enqueue(ctx context.Context, conversationID string, att *attachments.Attachment)
	WaitUntilReady(ctx context.Context, att *attachments.Attachment) (attachments.WaitResult, error)
}

// SendInput is the user action entering the pipeline.
type SendInput struct {
	Text        string
	Model       string
	ImageURL    string
	Attachments []*attachments.Attachment
}

type sendSnapshot struct {
	input SendInput
	slot  int
}

// Manager owns the active conversation id and the generation state machine.
// It composes the upload coordinator, the orchestrator and the version store
// to satisfy send, regenerate and stop. At most one generation is
// non-terminal at any time; a second entry is rejected with
// ErrGenerationActive rather than silently merged.
type Manager struct {
	orch       Completer
	uploads    Uploader
	store      *versions.Store
	pub        *events.PublisherManager
	titleLimit int
	logger     zerolog.Logger

	mu             sync.Mutex
	conversationID string
	slots          int
	active         *GenerationHandle
	last           *sendSnapshot
}

type ManagerOption func(*Manager)

func WithPublisher(pub *events.PublisherManager) ManagerOption {
	return func(m *Manager) { m.pub = pub }
}

func WithTitleLimit(limit int) ManagerOption {
	return func(m *Manager) { m.titleLimit = limit }
}

func WithConversationID(id string) ManagerOption {
	return func(m *Manager) { m.conversationID = id }
}

func NewManager(orch Completer, uploads Uploader, store *versions.Store, options ...ManagerOption) *Manager {
	ret := &Manager{
		orch:       orch,
		uploads:    uploads,
		store:      store,
		titleLimit: DefaultTitleLimit,
		logger:     log.With().Str("component", "session-manager").Logger(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// ConversationID returns the active conversation id, empty until the first
// successful send created one.
func (m *Manager) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// Store exposes the version store for read-only navigation queries.
func (m *Manager) Store() *versions.Store {
	return m.store
}

// IsGenerating reports whether a generation is currently non-terminal.
func (m *Manager) IsGenerating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && m.active.IsRunning()
}

// Send starts a generation for a new user message. It returns a handle
// immediately; the pipeline (attachment resolution, lazy conversation
// creation, completion exchange, version recording) runs asynchronously and
// settles the handle with exactly one terminal outcome.
func (m *Manager) Send(ctx context.Context, input SendInput) (*GenerationHandle, error) {
	if m == nil {
		return nil, ErrManagerNil
	}
	if m.orch == nil {
		return nil, ErrCompleterNil
	}
	if input.Text == "" && len(input.Attachments) == 0 && input.ImageURL == "" {
		return nil, ErrEmptyMessage
	}
	return m.start(ctx, input, 0)
}

// Regenerate re-runs the stored last-send context through the same pipeline
// and appends the result as a new version for the given slot. Prior versions
// stay untouched on failure.
func (m *Manager) Regenerate(ctx context.Context, slot int) (*GenerationHandle, error) {
	if m == nil {
		return nil, ErrManagerNil
	}
	m.mu.Lock()
	last := m.last
	m.mu.Unlock()
	if last == nil {
		return nil, ErrNothingToRegenerate
	}
	if slot <= 0 {
		slot = last.slot
	}
	return m.start(ctx, last.input, slot)
}

// Stop signals the active generation's cancellation token. It reports
// whether there was anything to stop; the caller presents the result as
// "stopped by user", not as an error.
func (m *Manager) Stop() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	h := m.active
	m.mu.Unlock()
	if h == nil || !h.IsRunning() {
		return false
	}
	h.Cancel()
	return true
}

// NewConversation clears the conversation id and the regeneration context.
// Cached versions of previous conversations stay in the store; they are
// keyed by conversation id and simply become unreachable.
func (m *Manager) NewConversation() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversationID = ""
	m.slots = 0
	m.last = nil
}

func (m *Manager) start(ctx context.Context, input SendInput, regenSlot int) (*GenerationHandle, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	if m.active != nil && m.active.IsRunning() {
		m.mu.Unlock()
		return nil, ErrGenerationActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	handle := newGenerationHandle(uuid.NewString(), cancel)
	m.active = handle
	m.mu.Unlock()

	go m.run(runCtx, handle, input, regenSlot)

	return handle, nil
}

func (m *Manager) run(ctx context.Context, handle *GenerationHandle, input SendInput, regenSlot int) {
	meta := events.EventMetadata{
		GenerationID:   handle.GenerationID,
		ConversationID: m.ConversationID(),
		Model:          input.Model,
	}
	m.publish(events.NewStartEvent(meta))

	outcome := m.pipeline(ctx, handle, input, regenSlot)

	meta.ConversationID = m.ConversationID()
	meta.Slot = outcome.Slot
	switch outcome.Status {
	case StatusCompleted:
		m.publish(events.NewFinalEvent(meta, outcome.Text))
	case StatusCancelled:
		m.publish(events.NewInterruptEvent(meta))
	case StatusFailed:
		m.publish(events.NewErrorEvent(meta, outcome.Err))
	}

	m.mu.Lock()
	if m.active == handle {
		m.active = nil
	}
	m.mu.Unlock()

	handle.setOutcome(outcome)
}

func (m *Manager) pipeline(ctx context.Context, handle *GenerationHandle, input SendInput, regenSlot int) Outcome {
	logger := m.logger.With().Str("generation_id", handle.GenerationID).Logger()

	if len(input.Attachments) > 0 {
		if err := m.resolveAttachments(ctx, input.Attachments); err != nil {
			status, kind := classify(err)
			logger.Warn().Err(err).Str("kind", string(kind)).Msg("attachment resolution aborted send")
			return Outcome{Status: status, Kind: kind, Err: err}
		}
	}

	conversationID, err := m.ensureConversation(ctx, input)
	if err != nil {
		status, kind := classify(err)
		if status == StatusFailed && kind != ErrorKindNoAuth {
			kind = ErrorKindConversationCreate
		}
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("conversation creation aborted send")
		return Outcome{Status: status, Kind: kind, Err: err}
	}

	reply, err := m.complete(ctx, conversationID, input)
	if err != nil {
		status, kind := classify(err)
		if status == StatusCancelled {
			logger.Debug().Msg("generation stopped by user")
			return Outcome{Status: StatusCancelled, Kind: ErrorKindCancelled, Err: err}
		}
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("completion failed")
		return Outcome{Status: status, Kind: kind, Err: err}
	}

	slot := m.recordVersion(conversationID, reply.Text, input, regenSlot)
	logger.Debug().Int("slot", slot).Msg("generation completed")
	return Outcome{Status: StatusCompleted, Text: reply.Text, Slot: slot}
}

// resolveAttachments enqueues any attachment that is still pending and then
// waits for every attachment to settle. The first failed or timed-out
// attachment aborts the send before any completion request is issued.
func (m *Manager) resolveAttachments(ctx context.Context, atts []*attachments.Attachment) error {
	conversationID := m.ConversationID()
	for _, att := range atts {
		if att.Status() == attachments.StatusPending {
			m.uploads.Enqueue(ctx, conversationID, att)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, att := range atts {
		att := att
		eg.Go(func() error {
			res, err := m.uploads.WaitUntilReady(egCtx, att)
			if err != nil {
				return err
			}
			if !res.Ready {
				return &AttachmentError{Name: att.Name, Reason: res.Reason, Cause: att.UploadError()}
			}
			return nil
		})
	}
	return eg.Wait()
}

func (m *Manager) ensureConversation(ctx context.Context, input SendInput) (string, error) {
	m.mu.Lock()
	conversationID := m.conversationID
	m.mu.Unlock()
	if conversationID != "" {
		return conversationID, nil
	}

	title := TruncateTitle(input.Text, m.titleLimit)
	id, err := m.orch.CreateConversation(ctx, title, input.Model)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.conversationID = id
	m.mu.Unlock()
	m.logger.Debug().Str("conversation_id", id).Str("title", title).Msg("conversation created")
	return id, nil
}

// complete picks the request shape and runs the exchange. The image shape is
// only used when an image reference is present and no document or URL
// attachments compete with it; attachments take precedence over a bare
// image.
func (m *Manager) complete(ctx context.Context, conversationID string, input SendInput) (*api.CompletionReply, error) {
	if input.ImageURL != "" && !hasDocumentAttachments(input.Attachments) {
		return m.orch.CompleteImage(ctx, &api.ImageCompletionRequest{
			ConversationID: conversationID,
			Model:          input.Model,
			Text:           input.Text,
			ImageURL:       input.ImageURL,
		})
	}

	content := []api.ContentPart{{Type: api.ContentPartText, Text: input.Text}}
	for _, att := range input.Attachments {
		remoteID, remoteURL := att.Remote()
		content = append(content, api.ContentPart{
			Type:    api.ContentPartFile,
			FileID:  remoteID,
			FileURL: remoteURL,
		})
	}

	return m.orch.Complete(ctx, &api.CompletionRequest{
		ConversationID: conversationID,
		Model:          input.Model,
		Content:        content,
	})
}

func (m *Manager) recordVersion(conversationID string, text string, input SendInput, regenSlot int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if regenSlot > 0 {
		m.store.AppendVersion(conversationID, regenSlot, text)
		return regenSlot
	}

	m.slots++
	slot := m.slots
	m.store.RecordFirstVersion(conversationID, slot, text)
	m.last = &sendSnapshot{input: input, slot: slot}
	return slot
}

func (m *Manager) publish(e events.Event) {
	if m.pub == nil {
		return
	}
	m.pub.PublishBlind(e)
}

func hasDocumentAttachments(atts []*attachments.Attachment) bool {
	for _, att := range atts {
		if att.Kind == attachments.KindFile || att.Kind == attachments.KindURL {
			return true
		}
	}
	return false
}

// TruncateTitle derives a conversation title from the first message,
// truncated to limit runes on a rune boundary.
func TruncateTitle(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultTitleLimit
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}
