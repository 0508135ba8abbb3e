// Package summary drives meeting-summary generation as a small state
// machine over a remote generation backend.
package summary

import (
	"context"
	"log"
	"sync"
)

// Status is the orchestrator's externally visible state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusProcessing   Status = "processing"
	StatusSummarizing  Status = "summarizing"
	StatusRegenerating Status = "regenerating"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// Request is the generation payload sent to the backend.
type Request struct {
	Transcript   string `json:"transcript"`
	TemplateID   string `json:"template_id"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	APIKey       string `json:"api_key,omitempty"`
	CustomPrompt string `json:"custom_prompt"`
	MeetingID    string `json:"meeting_id"`
}

// Result is the structured summary the backend returns.
type Result struct {
	Summary     string                 `json:"summary"`
	RawSummary  string                 `json:"raw_summary,omitempty"`
	Model       string                 `json:"model"`
	Markdown    string                 `json:"markdown,omitempty"`
	SummaryJSON map[string]interface{} `json:"summary_json,omitempty"`
}

// Generator is the remote summary backend.
type Generator interface {
	GenerateSummary(ctx context.Context, req Request) (Result, error)
}

// ModelConfig selects which model the backend should run. It arrives
// asynchronously from user settings; generation is a no-op until it loads.
type ModelConfig struct {
	TemplateID string
	Provider   string
	Model      string
	APIKey     string
}

// Orchestrator owns the summary lifecycle for one meeting. It does not
// queue or cancel overlapping calls; callers disable their triggering
// controls while Status is processing, summarizing or regenerating.
type Orchestrator struct {
	meetingID string
	generator Generator

	// OnStatus fires on every state transition.
	OnStatus func(s Status)
	// OnNotice carries user-facing messages for precondition misses.
	OnNotice func(msg string)
	// OnCompleted handlers run after a successful generation so dependent
	// views (meeting record, listings) can refresh.
	OnCompleted []func()

	mu       sync.Mutex
	status   Status
	cfg      *ModelConfig
	snapshot string
	result   *Result
	errMsg   string
}

// NewOrchestrator starts in idle with no model configuration.
func NewOrchestrator(meetingID string, generator Generator) *Orchestrator {
	return &Orchestrator{
		meetingID: meetingID,
		generator: generator,
		status:    StatusIdle,
	}
}

// SetModelConfig loads the model selection, unblocking generation.
func (o *Orchestrator) SetModelConfig(cfg ModelConfig) {
	o.mu.Lock()
	o.cfg = &cfg
	o.mu.Unlock()
}

// Status returns the current state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Summary returns the stored result, or nil when none exists.
func (o *Orchestrator) Summary() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.result == nil {
		return nil
	}
	cp := *o.result
	return &cp
}

// ErrorMessage returns the last failure message, empty outside error state.
func (o *Orchestrator) ErrorMessage() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errMsg
}

// Generate snapshots the transcript and dispatches the remote call.
// Preconditions: model configuration loaded and a non-empty transcript;
// either miss is a no-op with a notice. The call itself is fire-and-forget;
// Generate returns once it is dispatched.
func (o *Orchestrator) Generate(ctx context.Context, transcript, prompt string) {
	o.mu.Lock()
	if o.cfg == nil {
		o.mu.Unlock()
		o.notice("Model configuration is still loading, please wait")
		return
	}
	if transcript == "" {
		o.mu.Unlock()
		o.notice("Nothing to summarize yet: the transcript is empty")
		return
	}
	o.snapshot = transcript
	cfg := *o.cfg
	o.status = StatusProcessing
	o.mu.Unlock()
	o.notifyStatus(StatusProcessing)

	go o.run(ctx, cfg, transcript, prompt, false)
}

// Regenerate replays the generate flow against the cached transcript
// snapshot taken by the last Generate.
func (o *Orchestrator) Regenerate(ctx context.Context, prompt string) {
	o.mu.Lock()
	if o.cfg == nil {
		o.mu.Unlock()
		o.notice("Model configuration is still loading, please wait")
		return
	}
	if o.snapshot == "" {
		o.mu.Unlock()
		o.notice("No previous transcript to regenerate from")
		return
	}
	transcript := o.snapshot
	cfg := *o.cfg
	o.status = StatusRegenerating
	o.mu.Unlock()
	o.notifyStatus(StatusRegenerating)

	go o.run(ctx, cfg, transcript, prompt, true)
}

func (o *Orchestrator) run(ctx context.Context, cfg ModelConfig, transcript, prompt string, regen bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("summary: generation panicked: %v", r)
		}
	}()

	if !regen {
		o.mu.Lock()
		o.status = StatusSummarizing
		o.mu.Unlock()
		o.notifyStatus(StatusSummarizing)
	}

	res, err := o.generator.GenerateSummary(ctx, Request{
		Transcript:   transcript,
		TemplateID:   cfg.TemplateID,
		Provider:     cfg.Provider,
		Model:        cfg.Model,
		APIKey:       cfg.APIKey,
		CustomPrompt: prompt,
		MeetingID:    o.meetingID,
	})

	o.mu.Lock()
	if err != nil {
		o.errMsg = err.Error()
		if regen {
			// a failed regeneration clears the summary it was replacing
			o.result = nil
		}
		o.status = StatusError
		o.mu.Unlock()
		o.notifyStatus(StatusError)
		log.Printf("summary: generation failed: %v", err)
		return
	}
	o.result = &res
	o.errMsg = ""
	o.status = StatusCompleted
	completed := append([]func(){}, o.OnCompleted...)
	o.mu.Unlock()
	o.notifyStatus(StatusCompleted)

	for _, fn := range completed {
		fn()
	}
}

func (o *Orchestrator) notifyStatus(s Status) {
	if o.OnStatus != nil {
		o.OnStatus(s)
	}
}

func (o *Orchestrator) notice(msg string) {
	log.Printf("summary: %s", msg)
	if o.OnNotice != nil {
		o.OnNotice(msg)
	}
}
