// Package app holds the application state shared by the interactive chat
// view and the one-shot command line: the active conversation, its saved
// transcript and the usage ledger.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"convo/config"
	"convo/conversation"
	"convo/model"
	"convo/storage"
)

// Options configures a new Session. Store and Ledger are optional; without
// them nothing is persisted.
type Options struct {
	Config       *config.Config
	Provider     model.Provider
	Store        *storage.SessionStorage
	Ledger       *storage.UsageLedger
	SystemPrompt string           // Overrides the configured prompt
	Resume       *storage.Session // Saved transcript to continue
}

// Session is one conversation together with its persistence.
type Session struct {
	Conv     *conversation.Conversation
	Provider model.Provider
	Record   *storage.Session

	store  *storage.SessionStorage
	ledger *storage.UsageLedger

	// pending is set while the last user input waits for a committed reply.
	pending bool
}

// New creates a session, resuming opts.Resume when set.
func New(opts Options) *Session {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{AutoTruncate: true, Stream: true}
	}

	modelName := opts.Provider.DefaultModel()
	if opts.Resume != nil && opts.Resume.Model != "" && opts.Resume.Provider == opts.Provider.Name() {
		modelName = opts.Resume.Model
	}

	convOpts := []conversation.Option{conversation.WithParams(cfg.Params(modelName))}
	if opts.Resume != nil {
		convOpts = append(convOpts,
			conversation.WithHistory(opts.Resume.ModelMessages()),
			conversation.WithTruncations(opts.Resume.Truncations))
	}

	conv := conversation.New(opts.Provider, convOpts...)
	conv.AutoTruncate = cfg.AutoTruncate

	record := opts.Resume
	if record == nil {
		prompt := opts.SystemPrompt
		if prompt == "" {
			prompt = cfg.SystemPrompt
		}
		if prompt != "" {
			conv.AppendSystemMessage(prompt)
		}

		record = &storage.Session{
			ID:           uuid.New().String(),
			Provider:     opts.Provider.Name(),
			Model:        conv.Model(),
			SystemPrompt: prompt,
		}
	}

	if config.DebugLog != nil {
		config.DebugLog.WithFields(logrus.Fields{
			"session":  record.ID,
			"provider": opts.Provider.Name(),
			"model":    conv.Model(),
			"resumed":  opts.Resume != nil,
			"messages": conv.Len(),
		}).Debug("[App] Session ready")
	}

	return &Session{
		Conv:     conv,
		Provider: opts.Provider,
		Record:   record,
		store:    opts.Store,
		ledger:   opts.Ledger,
	}
}

// Resume loads the transcript named by ref ("last" for the most recent
// one), refusing transcripts held by another running instance.
func Resume(store *storage.SessionStorage, ref string) (*storage.Session, error) {
	id, err := store.Resolve(ref)
	if err != nil {
		return nil, err
	}

	locked, err := store.CheckSessionLock(id)
	if err != nil {
		return nil, fmt.Errorf("failed to check session lock: %w", err)
	}
	if locked {
		return nil, fmt.Errorf("session %s is in use by another instance", id)
	}

	session, err := store.Load(id)
	if err != nil {
		return nil, fmt.Errorf("failed to resume session %s: %w", id, err)
	}
	return session, nil
}

// Send appends input and runs a non-streaming exchange, committing the
// result when it succeeds.
func (s *Session) Send(ctx context.Context, input string) (string, error) {
	s.Conv.AppendUserInput(input)
	s.pending = true

	reply, err := s.Conv.ExchangeContent(ctx)
	if err != nil {
		s.DiscardInput()
		return "", err
	}
	if err := s.Commit(false); err != nil {
		return reply, err
	}
	return reply, nil
}

// Stream appends input and opens a streamed reply. The caller drains the
// stream and calls Commit once it finished without error, or DiscardInput
// when it failed or was cancelled.
func (s *Session) Stream(ctx context.Context, input string) *conversation.ResponseStream {
	s.Conv.AppendUserInput(input)
	s.pending = true
	return s.Conv.StreamResponse(ctx)
}

// DiscardInput drops the user input of an exchange that produced no reply,
// so that a retry does not leave two user turns in a row. It returns the
// dropped text.
func (s *Session) DiscardInput() string {
	if !s.pending {
		return ""
	}
	s.pending = false

	m, ok := s.Conv.RemoveLastUserInput()
	if !ok {
		return ""
	}
	if config.DebugLog != nil {
		config.DebugLog.Printf("[App] Discarded unanswered input in session %s", s.Record.ID)
	}
	return m.Content
}

// Commit saves the transcript and records the usage of the last exchange.
func (s *Session) Commit(streamed bool) error {
	s.pending = false
	s.sync()

	if s.store != nil {
		if err := s.store.Save(s.Record); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		if err := s.store.SaveCurrentSessionID(s.Record.ID); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[App] Warning: failed to remember current session: %v", err)
		}
	}

	if s.ledger != nil && s.Conv.LastResult() != nil {
		if _, err := s.ledger.RecordResult(s.Record.ID, s.Conv.LastResult(), s.Conv.Truncations(), streamed); err != nil {
			return fmt.Errorf("failed to record usage: %w", err)
		}
	}

	return nil
}

func (s *Session) sync() {
	s.Record.Messages = storage.FromModelMessages(s.Conv.Messages())
	s.Record.Provider = s.Provider.Name()
	s.Record.Model = s.Conv.Model()
	s.Record.Truncations = s.Conv.Truncations()
	if s.Record.Name == "" {
		s.Record.Name = storage.GenerateSessionName(firstUserInput(s.Conv.Messages()))
	}
}

func firstUserInput(messages []model.Message) string {
	for _, m := range messages {
		if m.Role == model.RoleUser {
			return m.Content
		}
	}
	return ""
}

// Usage returns the usage recorded for this session.
func (s *Session) Usage() (storage.UsageTotals, error) {
	if s.ledger == nil {
		return storage.UsageTotals{}, fmt.Errorf("usage ledger is not available")
	}
	return s.ledger.Totals(s.Record.ID)
}

// Export saves the session and writes it to path as JSON or YAML.
func (s *Session) Export(path string) error {
	if s.store == nil {
		return fmt.Errorf("session storage is not available")
	}

	s.sync()
	if err := s.store.Save(s.Record); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return s.store.Export(s.Record.ID, path)
}

// Rename names the transcript. A transcript that was never saved takes
// the name on its first commit.
func (s *Session) Rename(name string) error {
	s.Record.Name = name
	if s.store == nil {
		return nil
	}
	if _, err := s.store.Load(s.Record.ID); err != nil {
		return nil
	}
	return s.store.RenameSession(s.Record.ID, name)
}

// Search finds saved messages containing query across all transcripts.
func (s *Session) Search(query string) ([]storage.SessionMessageMatch, error) {
	if s.store == nil {
		return nil, fmt.Errorf("session storage is not available")
	}
	return storage.NewSearchIndex(s.store).SearchAllSessions(query)
}

// SwitchModel makes name the model for the following exchanges.
func (s *Session) SwitchModel(name string) {
	s.Conv.SetModel(name)
	s.Record.Model = name

	if config.DebugLog != nil {
		config.DebugLog.Printf("[App] Switched session %s to model %s", s.Record.ID, name)
	}
}

// Reset starts a new transcript that keeps the system messages. The lock
// moves to the new transcript.
func (s *Session) Reset() error {
	if err := s.Unlock(); err != nil {
		return err
	}

	s.Conv.Reset()
	s.pending = false
	s.Record = &storage.Session{
		ID:           uuid.New().String(),
		Provider:     s.Provider.Name(),
		Model:        s.Conv.Model(),
		SystemPrompt: s.Record.SystemPrompt,
	}

	return s.Lock()
}

// Lock marks the transcript as in use by this process.
func (s *Session) Lock() error {
	if s.store == nil {
		return nil
	}
	return s.store.LockSession(s.Record.ID)
}

func (s *Session) Unlock() error {
	if s.store == nil {
		return nil
	}
	return s.store.UnlockSession(s.Record.ID)
}
