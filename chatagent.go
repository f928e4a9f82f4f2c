// Package chatagent provides a high-level façade that assembles the agent
// engine and its collaborators (model provider, messaging platform, chat
// history and logging) from a single config.Config. Most applications
// interact with this package by:
//  1. Loading a config via config.Load
//  2. Creating an Agent via New (optionally overriding any collaborator)
//  3. Calling Start, feeding inbound messages to Handle, and calling Close
//
// The façade delegates the pipeline to engine.Engine while keeping setup
// concise. Every collaborator not supplied through Options is built from the
// config; the defaults (mock model, console platform, in-memory history) are
// safe for local development and testing.
package chatagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/chatagent/config"
	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/engine"
	"github.com/hupe1980/chatagent/logging"
	"github.com/hupe1980/chatagent/memory"
	"github.com/hupe1980/chatagent/model"
	"github.com/hupe1980/chatagent/model/anthropic"
	"github.com/hupe1980/chatagent/model/gemini"
	"github.com/hupe1980/chatagent/model/openai"
	"github.com/hupe1980/chatagent/platform"
	"github.com/hupe1980/chatagent/platform/vk"
)

// History is a chat history backend that feeds the observer, records the
// bot's own messages and ingests inbound messages.
type History interface {
	core.MemoryStore
	AppendMessage(ctx context.Context, m memory.Message) error
}

// Options configures an Agent. Nil collaborators are built from Config.
type Options struct {
	Model     model.Model
	Messenger core.Messenger
	History   History
	Logger    logging.Logger

	// Output receives console platform lines. Defaults to os.Stdout.
	Output io.Writer

	// Engine is applied last to the engine options.
	Engine func(o *engine.Options)
}

// Agent aggregates an engine with the collaborators it was built from.
type Agent struct {
	engine  *engine.Engine
	history History
	logger  logging.Logger
	closers []func() error
}

// New assembles an Agent from cfg. cfg is not retained; the engine works on
// a normalized copy.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Agent, error) {
	opts := Options{Output: os.Stdout}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	a := &Agent{logger: opts.Logger}

	llm := opts.Model
	if llm == nil {
		m, err := NewModel(ctx, cfg)
		if err != nil {
			return nil, err
		}
		llm = m
	}

	messenger := opts.Messenger
	if messenger == nil {
		m, err := NewMessenger(cfg, opts.Output, opts.Logger)
		if err != nil {
			return nil, err
		}
		messenger = m
	}

	history := opts.History
	if history == nil {
		h, closeFn, err := OpenHistory(ctx, cfg)
		if err != nil {
			return nil, err
		}
		history = h
		a.closers = append(a.closers, closeFn)
	}
	a.history = history

	a.engine = engine.New(func(o *engine.Options) {
		o.Config = cfg
		o.Model = llm
		o.Messenger = messenger
		if history != nil {
			o.Context = history
			o.History = history
		}
		o.Logger = opts.Logger
		if opts.Engine != nil {
			opts.Engine(o)
		}
	})

	return a, nil
}

// Engine returns the underlying engine.
func (a *Agent) Engine() *engine.Engine { return a.engine }

// History returns the history backend, or nil when history is disabled.
func (a *Agent) History() History { return a.history }

// Start opens the checkpoint store and resumes interrupted invocations.
func (a *Agent) Start(ctx context.Context) error { return a.engine.Start(ctx) }

// Handle records an inbound message in the history and runs it through the
// engine. name is the sender's display name and may be empty.
func (a *Agent) Handle(ctx context.Context, ev core.Event, name string) engine.Outcome {
	if a.history != nil {
		err := a.history.AppendMessage(ctx, memory.Message{
			ConversationID: ev.ConversationID,
			MessageID:      ev.MessageID,
			ActorID:        ev.ActorID,
			Name:           name,
			Role:           memory.RoleUser,
			Text:           ev.Text,
			Timestamp:      ev.Timestamp,
		})
		if err != nil {
			a.logger.Debug("agent.history_failed", "conversation_id", ev.ConversationID, "error", err.Error())
		}
	}
	return a.engine.HandleEvent(ctx, ev)
}

// Close stops the engine and releases every backend opened by New.
func (a *Agent) Close() error {
	errs := []error{a.engine.Stop()}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// NewModel builds the model provider selected by cfg.Provider.
func NewModel(ctx context.Context, cfg *config.Config) (model.Model, error) {
	p, ag := cfg.Provider, cfg.Agent

	switch p.Name {
	case config.ProviderMock:
		return model.NewMockModel("mock"), nil
	case config.ProviderOpenAI, config.ProviderVenice:
		return openai.NewModel(func(o *openai.Options) {
			if p.Model != "" {
				o.Model = p.Model
			}
			o.Temperature = ag.Temperature
			o.MaxCompletionTokens = int64(ag.MaxTokens)
			o.LegacyMaxTokens = p.LegacyMaxTokens
			o.APIKey = p.APIKey
			o.BaseURL = p.BaseURL
			o.ExtraBody = p.ExtraBody
			o.RequestTimeout = config.Seconds(p.TimeoutSeconds)
			o.MaxRetries = p.MaxRetries
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if p.Model != "" {
				o.Model = anthropicsdk.Model(p.Model)
			}
			o.Temperature = ag.Temperature
			o.MaxTokens = int64(ag.MaxTokens)
			o.APIKey = p.APIKey
			o.BaseURL = p.BaseURL
			o.MaxRetries = p.MaxRetries
		}), nil
	case config.ProviderGemini:
		m, err := gemini.NewModel(ctx, func(o *gemini.Options) {
			if p.Model != "" {
				o.Model = p.Model
			}
			o.Temperature = float32(ag.Temperature)
			o.MaxTokens = int32(ag.MaxTokens)
			o.APIKey = p.APIKey
			o.BaseURL = p.BaseURL
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", config.ErrInvalid, p.Name)
	}
}

// NewMessenger builds the messaging platform selected by cfg.Platform.
// Console output goes to out.
func NewMessenger(cfg *config.Config, out io.Writer, logger logging.Logger) (core.Messenger, error) {
	switch cfg.Platform.Name {
	case config.PlatformConsole:
		return platform.NewConsole(out), nil
	case config.PlatformVK:
		c, err := vk.NewClient(func(o *vk.Options) {
			o.AccessToken = cfg.Platform.AccessToken
			if cfg.Platform.APIVersion != "" {
				o.APIVersion = cfg.Platform.APIVersion
			}
			o.Timeout = config.Seconds(cfg.Platform.TimeoutSeconds)
			o.Logger = logger
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown platform %q", config.ErrInvalid, cfg.Platform.Name)
	}
}

// OpenHistory opens the backend selected by cfg.History. A nil History means
// history is disabled. The returned func closes the backend.
func OpenHistory(ctx context.Context, cfg *config.Config) (History, func() error, error) {
	h := cfg.History
	opts := func(o *memory.Options) {
		o.MaxChars = h.MaxChars
		o.LineMaxChars = h.LineMaxChars
		o.CommandPrefix = cfg.Agent.CommandPrefix
	}
	nop := func() error { return nil }

	switch h.Backend {
	case config.HistoryNone:
		return nil, nop, nil
	case config.HistoryMemory:
		return memory.NewInMemoryStore(opts), nop, nil
	case config.HistorySQLite:
		s, err := memory.OpenSQLite(ctx, h.Path, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("open history: %w", err)
		}
		return s, s.Close, nil
	case config.HistoryPostgres:
		s, err := memory.OpenPostgres(ctx, h.DatabaseURL, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("open history: %w", err)
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown history backend %q", config.ErrInvalid, h.Backend)
	}
}
