// Package gateway adapts the LLM client to the four resolution calls: summary,
// fast resolve, deep resolve and synthesis. Every call is bounded by its own
// deadline and every failure is returned as a classified *ResolveError.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/golden-record/internal/llm"
	"github.com/jonathan/golden-record/internal/logger"
	"github.com/jonathan/golden-record/internal/prompts"
	"github.com/jonathan/golden-record/internal/schemas"
	"github.com/jonathan/golden-record/internal/types"
)

// SummaryUnavailable replaces the synopsis whenever the summary call fails
const SummaryUnavailable = "Summary unavailable."

// Timeouts bounds each remote call
type Timeouts struct {
	Fast      time.Duration
	Deep      time.Duration
	Synthesis time.Duration
	Summary   time.Duration
}

// DefaultTimeouts returns the default per-call deadlines
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Fast:      60 * time.Second,
		Deep:      180 * time.Second,
		Synthesis: 90 * time.Second,
		Summary:   20 * time.Second,
	}
}

// Gateway issues resolution calls through an llm.Client
type Gateway struct {
	client   llm.Client
	timeouts Timeouts
	log      logger.Logger
}

// New creates a Gateway over an existing client
func New(client llm.Client, timeouts Timeouts, log logger.Logger) *Gateway {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Gateway{client: client, timeouts: timeouts, log: log}
}

// Dial creates the Gemini client and the Gateway. A missing API key fails here,
// before any remote call is attempted.
func Dial(ctx context.Context, cfg *llm.Config, apiKey string, timeouts Timeouts, log logger.Logger) (*Gateway, error) {
	if err := prompts.Check(); err != nil {
		return nil, err
	}
	client, err := llm.NewClient(ctx, cfg, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return New(client, timeouts, log), nil
}

// Close releases the underlying client
func (g *Gateway) Close() error {
	return g.client.Close()
}

// Summarize returns a one-sentence synopsis of the transcript. It never fails:
// any fault yields SummaryUnavailable.
func (g *Gateway) Summarize(ctx context.Context, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeouts.Summary)
	defer cancel()

	prompt, err := prompts.Render(prompts.KeySummarize, map[string]string{"Transcript": transcript})
	if err != nil {
		g.log.WithError(err).Warn("summary prompt unavailable", nil)
		return SummaryUnavailable, nil
	}

	text, err := g.client.GenerateContent(ctx, prompt, llm.TierLite)
	if err != nil {
		g.log.WithError(err).Warn("summary call failed", nil)
		return SummaryUnavailable, nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return SummaryUnavailable, nil
	}
	return text, nil
}

// FastResolve streams a profile from the standard tier. onPartial receives the
// cumulative text after every chunk.
func (g *Gateway) FastResolve(ctx context.Context, item types.WorkItem, onPartial func(string)) (*types.ResultProfile, error) {
	return g.resolve(ctx, item, onPartial, streamCall{
		promptKey:  prompts.KeyFastResolve,
		tier:       llm.TierStandard,
		timeout:    g.timeouts.Fast,
		schema:     schemas.ProfileSchema,
		faultClass: ClassAPI,
		parseClass: ClassParse,
	})
}

// DeepResolve streams a profile with a reasoning narrative from the advanced tier.
// The streamed text itself is the narrative surfaced through onPartial.
func (g *Gateway) DeepResolve(ctx context.Context, item types.WorkItem, onPartial func(string)) (*types.ResultProfile, error) {
	return g.resolve(ctx, item, onPartial, streamCall{
		promptKey:  prompts.KeyDeepResolve,
		tier:       llm.TierAdvanced,
		timeout:    g.timeouts.Deep,
		schema:     schemas.DeepProfileSchema,
		faultClass: ClassEngine,
		parseClass: ClassStructure,
	})
}

// Synthesize reconciles the two proposals into the golden record
func (g *Gateway) Synthesize(ctx context.Context, item types.WorkItem, fast, deep *types.ResultProfile) (*types.ResultProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeouts.Synthesis)
	defer cancel()

	fastJSON, err := json.Marshal(fast)
	if err != nil {
		return nil, &ResolveError{Class: ClassConsolidation, Message: "failed to encode fast proposal", Cause: err}
	}
	deepJSON, err := json.Marshal(deep)
	if err != nil {
		return nil, &ResolveError{Class: ClassConsolidation, Message: "failed to encode deep proposal", Cause: err}
	}

	data, err := promptData(item)
	if err != nil {
		return nil, &ResolveError{Class: ClassConsolidation, Message: "failed to build prompt", Cause: err}
	}
	data["FastProposal"] = string(fastJSON)
	data["DeepProposal"] = string(deepJSON)

	prompt, err := prompts.Render(prompts.KeySynthesize, data)
	if err != nil {
		return nil, &ResolveError{Class: ClassConsolidation, Message: "failed to build prompt", Cause: err}
	}

	text, err := g.client.GenerateJSON(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return nil, classifyFault(ctx, err, ClassConsolidation, g.timeouts.Synthesis)
	}

	profile, err := parseProfile(text, schemas.ProfileSchema)
	if err != nil {
		return nil, &ResolveError{Class: ClassConsolidation, Message: "unreadable golden record", Cause: err}
	}
	return profile, nil
}

type streamCall struct {
	promptKey  prompts.Key
	tier       llm.ModelTier
	timeout    time.Duration
	schema     schemas.Schema
	faultClass Class
	parseClass Class
}

func (g *Gateway) resolve(ctx context.Context, item types.WorkItem, onPartial func(string), call streamCall) (*types.ResultProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, call.timeout)
	defer cancel()

	data, err := promptData(item)
	if err != nil {
		return nil, &ResolveError{Class: call.faultClass, Message: "failed to build prompt", Cause: err}
	}
	prompt, err := prompts.Render(call.promptKey, data)
	if err != nil {
		return nil, &ResolveError{Class: call.faultClass, Message: "failed to build prompt", Cause: err}
	}

	var sb strings.Builder
	for chunk, err := range g.client.StreamJSON(ctx, prompt, call.tier) {
		if err != nil {
			return nil, classifyFault(ctx, err, call.faultClass, call.timeout)
		}
		sb.WriteString(chunk)
		if onPartial != nil {
			onPartial(sb.String())
		}
	}
	// A stream can end quietly when the deadline fires between chunks
	if ctx.Err() != nil {
		return nil, classifyFault(ctx, ctx.Err(), call.faultClass, call.timeout)
	}

	profile, err := parseProfile(sb.String(), call.schema)
	if err != nil {
		return nil, &ResolveError{Class: call.parseClass, Message: "response is not a valid profile", Cause: err}
	}
	return profile, nil
}

func promptData(item types.WorkItem) (map[string]string, error) {
	record, err := json.MarshalIndent(item.SourceRecord, "", "  ")
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"SourceRecord": string(record),
		"Transcript":   item.Transcript,
	}, nil
}

// parseProfile normalizes fenced output, checks it against the schema and decodes it
func parseProfile(text string, schema schemas.Schema) (*types.ResultProfile, error) {
	cleaned := llm.CleanJSONBlock(text)
	if cleaned == "" {
		return nil, errors.New("empty response")
	}

	if err := schemas.Validate(schema, cleaned); err != nil {
		var validationErr *schemas.ValidationError
		if errors.As(err, &validationErr) {
			return nil, errors.New(validationErr.Summary())
		}
		return nil, err
	}

	var profile types.ResultProfile
	if err := json.Unmarshal([]byte(cleaned), &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// classifyFault maps a transport failure to its class, or to ClassTimeout when
// the per-call deadline expired
func classifyFault(ctx context.Context, err error, class Class, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ResolveError{
			Class:   ClassTimeout,
			Message: fmt.Sprintf("no response within %s", timeout),
			Cause:   err,
		}
	}
	return &ResolveError{Class: class, Message: "remote call failed", Cause: err}
}
