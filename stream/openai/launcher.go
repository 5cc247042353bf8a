// Package openai runs agent conversations over the OpenAI Chat Completions
// API, mirroring the anthropic launcher's turn loop.
package openai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go"

	"github.com/loftwing/agentpool/core"
	"github.com/loftwing/agentpool/internal/util"
)

const (
	costPerPromptToken     = 0.15 / 1e6
	costPerCompletionToken = 0.60 / 1e6
)

// Options configures the OpenAI launcher.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	System              string
}

// Launcher implements core.Launcher over the OpenAI Chat Completions API.
type Launcher struct {
	client *openai.Client
	opts   Options
}

// NewLauncher creates a launcher using the official client.
func NewLauncher(optFns ...func(o *Options)) *Launcher {
	client := openai.NewClient()
	return NewLauncherFromClient(&client, optFns...)
}

// NewLauncherFromClient creates a launcher from an existing client.
func NewLauncherFromClient(client *openai.Client, optFns ...func(o *Options)) *Launcher {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
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
		return nil, fmt.Errorf("openai launch: empty prompt")
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
		model = opts.Model
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if l.opts.System != "" {
		messages = append(messages, openai.SystemMessage(l.opts.System))
	}
	messages = append(messages, openai.UserMessage(opts.Prompt))

	var totalCost float64
	for {
		started := time.Now()
		resp, err := l.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:               model,
			Messages:            messages,
			Temperature:         openai.Float(l.opts.Temperature),
			MaxCompletionTokens: openai.Int(l.opts.MaxCompletionTokens),
		})
		if err != nil {
			st.emit(ctx, core.NewResultEvent(core.Result{
				Subtype:  core.ResultError,
				Duration: time.Since(started),
				Err:      fmt.Sprintf("openai api error: %v", err),
			}))
			return
		}
		if len(resp.Choices) == 0 {
			st.emit(ctx, core.NewResultEvent(core.Result{
				Subtype:  core.ResultError,
				Duration: time.Since(started),
				Err:      "openai response contained no choices",
			}))
			return
		}

		text := resp.Choices[0].Message.Content
		if text != "" && !st.emit(ctx, core.NewTextEvent(text)) {
			return
		}

		turnCost := float64(resp.Usage.PromptTokens)*costPerPromptToken +
			float64(resp.Usage.CompletionTokens)*costPerCompletionToken
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
			openai.AssistantMessage(text),
			openai.UserMessage(next),
		)
	}
}
