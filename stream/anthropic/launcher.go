// Package anthropic runs agent conversations over the Anthropic Messages
// API. Each launch produces an event stream with one result per completed
// turn; multi-turn launches drain the caller's input source between turns.
package anthropic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/loftwing/agentpool/core"
	"github.com/loftwing/agentpool/internal/util"
)

// Rough per-token pricing used to account cost against a session budget.
const (
	costPerInputToken  = 3.0 / 1e6
	costPerOutputToken = 15.0 / 1e6
)

// Options configures the Anthropic launcher.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	System      string
}

// Launcher implements core.Launcher over the Anthropic Messages API.
type Launcher struct {
	client *anthropic.Client
	opts   Options
}

// NewLauncher creates a launcher using the official client.
func NewLauncher(optFns ...func(o *Options)) *Launcher {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Launcher{client: &client, opts: opts}
}

// NewLauncherFromClient creates a launcher from an existing client.
func NewLauncherFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Launcher {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Launcher{client: client, opts: opts}
}

// Launch starts the conversation. The returned stream's channel closes after
// the final result, or without one when aborted.
func (l *Launcher) Launch(ctx context.Context, opts core.StartOptions, input core.InputSource) (core.Stream, error) {
	if opts.Prompt == "" {
		return nil, fmt.Errorf("anthropic launch: empty prompt")
	}
	ctx, cancel := context.WithCancel(ctx)
	st := &stream{
		events: make(chan core.Event, 32),
		cancel: cancel,
	}
	go l.run(ctx, st, opts, input)
	return st, nil
}

type stream struct {
	events chan core.Event
	cancel context.CancelFunc
	once   sync.Once
}

func (s *stream) Events() <-chan core.Event { return s.events }

func (s *stream) Abort() { s.cancel() }

func (s *stream) close() { s.once.Do(func() { close(s.events) }) }

func (s *stream) emit(ctx context.Context, ev core.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Launcher) run(ctx context.Context, st *stream, opts core.StartOptions, input core.InputSource) {
	defer st.close()

	conversationID := opts.Resume
	if conversationID == "" {
		conversationID = util.NewID()
	}
	if !st.emit(ctx, core.NewInitEvent(conversationID)) {
		return
	}

	model := l.opts.Model
	if opts.Model != "" {
		model = anthropic.Model(opts.Model)
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(opts.Prompt)),
	}

	var totalCost float64
	for {
		started := time.Now()
		params := anthropic.MessageNewParams{
			Model:       model,
			Messages:    messages,
			MaxTokens:   l.opts.MaxTokens,
			Temperature: anthropic.Float(l.opts.Temperature),
		}
		if l.opts.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: l.opts.System}}
		}

		resp, err := l.client.Messages.New(ctx, params)
		if err != nil {
			st.emit(ctx, core.NewResultEvent(core.Result{
				Subtype:  core.ResultError,
				Duration: time.Since(started),
				Err:      fmt.Sprintf("anthropic api error: %v", err),
			}))
			return
		}

		var text string
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.AsText().Text
			}
		}
		if text != "" && !st.emit(ctx, core.NewTextEvent(text)) {
			return
		}

		turnCost := float64(resp.Usage.InputTokens)*costPerInputToken +
			float64(resp.Usage.OutputTokens)*costPerOutputToken
		totalCost += turnCost

		if opts.MaxBudget > 0 && totalCost >= opts.MaxBudget {
			st.emit(ctx, core.NewResultEvent(core.Result{
				Subtype:  core.ResultBudgetExhausted,
				Cost:     turnCost,
				Duration: time.Since(started),
			}))
			return
		}
		if !st.emit(ctx, core.NewResultEvent(core.Result{
			Subtype:  core.ResultSuccess,
			Cost:     turnCost,
			Duration: time.Since(started),
		})) {
			return
		}
		if !opts.MultiTurn {
			return
		}

		next, ok := input.Next(ctx)
		if !ok {
			return
		}
		messages = append(messages,
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)),
			anthropic.NewUserMessage(anthropic.NewTextBlock(next)),
		)
	}
}
