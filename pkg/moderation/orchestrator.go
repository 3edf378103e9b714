// Package moderation runs the end-to-end pipeline for one message: normalize,
// filter, prompt the LLM when needed, decide, persist, and publish.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/streamguard/streamguard/pkg/decision"
	"github.com/streamguard/streamguard/pkg/filter"
	"github.com/streamguard/streamguard/pkg/llm"
	"github.com/streamguard/streamguard/pkg/metrics"
	"github.com/streamguard/streamguard/pkg/models"
	"github.com/streamguard/streamguard/pkg/template"
)

// Config holds orchestrator settings.
type Config struct {
	// ProcessTimeout bounds one message's full pipeline run.
	ProcessTimeout time.Duration

	// TemplateName is the prompt template used for LLM classification.
	TemplateName string

	// DedupTTL is how long a message ID's outcome is remembered; a
	// redelivery within the window returns the cached event.
	DedupTTL time.Duration
}

// DefaultConfig returns the standard orchestrator parameters.
func DefaultConfig() Config {
	return Config{
		ProcessTimeout: 15 * time.Second,
		TemplateName:   "chat_moderation",
		DedupTTL:       5 * time.Minute,
	}
}

// strictJSONHint is sent on the single reparse retry after an unparseable
// response.
const strictJSONHint = "Respond with only a single JSON object of the form " +
	`{"decision":"...","confidence":0.0,"reasoning":"..."} and no other text.`

// Orchestrator coordinates the moderation pipeline. Safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	filter    *filter.Service
	templates *template.Registry
	client    *llm.Client
	decider   *decision.Handler
	metrics   *metrics.Metrics
	dedup     *dedupCache
	logger    *slog.Logger
}

// NewOrchestrator wires the pipeline stages. metrics may be nil in tests.
func NewOrchestrator(cfg Config, f *filter.Service, reg *template.Registry, client *llm.Client, decider *decision.Handler, m *metrics.Metrics) *Orchestrator {
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = DefaultConfig().ProcessTimeout
	}
	if cfg.TemplateName == "" {
		cfg.TemplateName = DefaultConfig().TemplateName
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultConfig().DedupTTL
	}
	return &Orchestrator{
		cfg:       cfg,
		filter:    f,
		templates: reg,
		client:    client,
		decider:   decider,
		metrics:   m,
		dedup:     newDedupCache(cfg.DedupTTL),
		logger:    slog.Default().With("component", "moderation"),
	}
}

// Process moderates one message and returns its processed event. The event
// has always been published to the session hub when Process returns.
//
// A message ID seen within the dedup window returns the original event
// without re-running the pipeline or re-publishing.
func (o *Orchestrator) Process(ctx context.Context, msg models.IncomingMessage) (*models.ProcessedEvent, error) {
	start := time.Now()

	if err := validate(&msg); err != nil {
		return nil, err
	}
	normalize(&msg)

	if cached, ok := o.dedup.get(msg.MessageID); ok {
		o.logger.Debug("Duplicate message, returning cached event", "message_id", msg.MessageID)
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProcessTimeout)
	defer cancel()

	// Empty bodies are trivially clean; skip both filter and LLM.
	if strings.TrimSpace(msg.Body) == "" {
		event := o.finish(ctx, start, msg,
			models.FilterOutcome{ShouldProcess: true, Decision: models.FilterPass},
			models.ModerationVerdict{
				Decision:        models.VerdictNonToxic,
				Confidence:      1.0,
				Reasoning:       "empty message body",
				TemplateVersion: models.FilterTemplateVersion,
			})
		return event, nil
	}

	outcome := o.filter.Evaluate(ctx, &msg)
	o.observeFilter(outcome)

	if !outcome.ShouldProcess {
		event := o.finish(ctx, start, msg, outcome, verdictFromFilter(outcome))
		return event, nil
	}

	verdict := o.classify(ctx, msg, outcome)
	event := o.finish(ctx, start, msg, outcome, verdict)
	return event, nil
}

// finish runs the decision stage, stamps latencies, caches and returns the
// event.
func (o *Orchestrator) finish(ctx context.Context, start time.Time, msg models.IncomingMessage, outcome models.FilterOutcome, verdict models.ModerationVerdict) *models.ProcessedEvent {
	history := o.decider.History(ctx, msg.UserID)
	event := o.decider.Apply(ctx, msg, outcome, verdict, history)
	event.TotalLatency = time.Since(start)

	if o.metrics != nil {
		o.metrics.PipelineLatency.Observe(event.TotalLatency.Seconds())
	}

	o.dedup.put(msg.MessageID, event)
	return event
}

// classify renders the prompt and asks the LLM for a verdict. Every failure
// mode degrades to an Unknown verdict with zero confidence; moderation never
// fails a message outright because the oracle is unavailable.
func (o *Orchestrator) classify(ctx context.Context, msg models.IncomingMessage, outcome models.FilterOutcome) models.ModerationVerdict {
	tmpl, err := o.templates.Get(o.cfg.TemplateName)
	if err != nil {
		o.logger.Error("Moderation template unavailable", "template", o.cfg.TemplateName, "error", err)
		return fallbackVerdict("template unavailable")
	}

	prompt, err := o.renderPrompt(ctx, tmpl, msg, outcome)
	if err != nil {
		o.logger.Error("Prompt render failed", "template", tmpl.Name, "error", err)
		return fallbackVerdict("prompt render failed")
	}

	verdict, err := o.completeAndParse(ctx, prompt, llm.CompleteOptions{})

	// One retry with a strict JSON instruction when the response text could
	// not be parsed; transport-level failures are already retried inside the
	// client.
	if err != nil && errors.Is(err, llm.ErrUnparseable) {
		o.logger.Warn("Unparseable verdict, retrying with strict JSON hint", "message_id", msg.MessageID)
		verdict, err = o.completeAndParse(ctx, prompt, llm.CompleteOptions{SystemHint: strictJSONHint})
	}
	if err != nil {
		kind := llm.Kind(err)
		o.logger.Error("LLM classification failed",
			"message_id", msg.MessageID,
			"kind", kind,
			"error", err)
		return fallbackVerdict("upstream failure: " + kind)
	}

	verdict.TemplateVersion = tmpl.Version
	return *verdict
}

func (o *Orchestrator) completeAndParse(ctx context.Context, prompt string, opts llm.CompleteOptions) (*models.ModerationVerdict, error) {
	completion, err := o.client.Complete(ctx, prompt, opts)
	o.observeLLM(completion, err)
	if err != nil {
		return nil, err
	}

	verdict, err := llm.ParseVerdict(completion.Text)
	if err != nil {
		return nil, err
	}
	verdict.Processing = completion.Duration
	return verdict, nil
}

// renderPrompt substitutes message fields into the template. High-safety
// templates additionally receive a summary of the user's recent history.
func (o *Orchestrator) renderPrompt(ctx context.Context, tmpl *template.Template, msg models.IncomingMessage, outcome models.FilterOutcome) (string, error) {
	vars := map[string]string{
		"message":    msg.Body,
		"username":   msg.Username,
		"channel_id": msg.ChannelID,
	}
	if tmpl.SafetyLevel == template.SafetyHigh {
		vars["history_summary"] = o.historySummary(ctx, msg.UserID)
	}
	if len(outcome.MatchedPatterns) > 0 {
		vars["filter_hints"] = strings.Join(outcome.MatchedPatterns, ", ")
	} else {
		vars["filter_hints"] = "none"
	}
	return template.Render(tmpl, vars)
}

func (o *Orchestrator) historySummary(ctx context.Context, userID string) string {
	counts := o.decider.History(ctx, userID)
	if counts.Total == 0 {
		return "no prior violations"
	}
	return fmt.Sprintf("%d violations in the last 30 days (%d critical, %d spam in 24h)",
		counts.Total, counts.Critical30d, counts.Spam24h)
}

func (o *Orchestrator) observeFilter(outcome models.FilterOutcome) {
	if o.metrics == nil {
		return
	}
	if outcome.Decision == models.FilterRateLimited {
		o.metrics.RateLimitHits.Inc()
	}
	if outcome.PatternType != "" {
		o.metrics.FilterMatches.WithLabelValues(string(outcome.PatternType)).Inc()
	}
}

func (o *Orchestrator) observeLLM(completion *llm.Completion, err error) {
	if o.metrics == nil {
		return
	}
	if err != nil {
		o.metrics.LLMRequests.WithLabelValues(llm.Kind(err)).Inc()
	} else {
		o.metrics.LLMRequests.WithLabelValues("success").Inc()
		o.metrics.LLMLatency.Observe(completion.Duration.Seconds())
	}
	o.metrics.BreakerState.Set(metrics.BreakerStateValue(o.client.BreakerState()))
}

// verdictFromFilter synthesizes a verdict for messages the filter resolved
// without the LLM.
func verdictFromFilter(outcome models.FilterOutcome) models.ModerationVerdict {
	verdict := models.ModerationVerdict{
		Confidence:      outcome.Confidence,
		TemplateVersion: models.FilterTemplateVersion,
		Categories:      outcome.MatchedPatterns,
	}

	switch {
	case outcome.Decision == models.FilterRateLimited:
		verdict.Decision = models.VerdictRateLimited
		verdict.Reasoning = "message rate limit exceeded"
	case outcome.PatternType == models.PatternPII:
		verdict.Decision = models.VerdictPII
		verdict.Reasoning = "personal information pattern matched"
	case outcome.PatternType == models.PatternBannedWord, outcome.PatternType == models.PatternToxic:
		verdict.Decision = models.VerdictToxic
		verdict.Reasoning = "blocked content pattern matched"
	default:
		verdict.Decision = models.VerdictSpam
		verdict.Reasoning = "spam pattern matched"
	}
	return verdict
}

// fallbackVerdict is the degraded outcome when no classification happened.
func fallbackVerdict(reason string) models.ModerationVerdict {
	return models.ModerationVerdict{
		Decision:        models.VerdictUnknown,
		Confidence:      0,
		Reasoning:       reason,
		TemplateVersion: models.FilterTemplateVersion,
	}
}

// validate rejects messages the pipeline cannot attribute.
func validate(msg *models.IncomingMessage) error {
	if msg.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("channel_id is required")
	}
	if len(msg.Metadata) > models.MaxMetadataEntries {
		return fmt.Errorf("metadata exceeds %d entries", models.MaxMetadataEntries)
	}
	return nil
}

// normalize assigns missing identifiers and truncates oversized bodies.
func normalize(msg *models.IncomingMessage) {
	if msg.MessageID == "" {
		msg.MessageID = ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if len(msg.Body) > models.MaxBodyBytes {
		cut := msg.Body[:models.MaxBodyBytes]
		// Do not split a UTF-8 sequence mid-rune.
		for i := 0; i < utf8.UTFMax-1 && len(cut) > 0; i++ {
			r, size := utf8.DecodeLastRuneInString(cut)
			if r != utf8.RuneError || size != 1 {
				break
			}
			cut = cut[:len(cut)-1]
		}
		msg.Body = cut + models.TruncationMarker
	}
}
