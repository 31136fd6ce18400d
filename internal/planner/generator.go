package planner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alanmaizon/taskplan/internal/domain"
	"github.com/alanmaizon/taskplan/internal/llm"
	"github.com/alanmaizon/taskplan/internal/middleware"
	"github.com/rs/zerolog/log"
)

type Option func(*Generator)

// WithStrictSchema turns a plan whose shape does not match the requested
// counts into a failure instead of a logged warning.
func WithStrictSchema(strict bool) Option {
	return func(g *Generator) {
		g.strictSchema = strict
	}
}

// Generator turns a plan request into one provider call. It holds no
// per-request state and is safe for concurrent use.
type Generator struct {
	registry     *llm.Registry
	completer    llm.Completer
	strictSchema bool
}

func NewGenerator(registry *llm.Registry, completer llm.Completer, opts ...Option) *Generator {
	g := &Generator{
		registry:  registry,
		completer: completer,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the provider's plan, or (nil, false) after logging when
// anything goes wrong. Callers cannot tell failure kinds apart.
func (g *Generator) Generate(ctx context.Context, req domain.PlanRequest) (*domain.TaskPlan, bool) {
	started := time.Now()
	plan, err := g.generate(ctx, req)
	if err != nil {
		log.Error().
			Err(err).
			Str("request_id", middleware.GetRequestIDFromContext(ctx)).
			Str("component", "planner").
			Str("provider", req.Provider).
			Str("error_category", llm.ErrorCategory(err)).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("AI task generation failed")
		return nil, false
	}
	return plan, true
}

func (g *Generator) generate(ctx context.Context, req domain.PlanRequest) (*domain.TaskPlan, error) {
	selector, err := llm.ParseSelector(req.Provider)
	if err != nil {
		return nil, err
	}
	provider, err := g.registry.Lookup(selector)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("request_id", middleware.GetRequestIDFromContext(ctx)).
		Str("component", "planner").
		Object("upstream", provider).
		Int("core_num", req.CoreTaskCount).
		Int("sub_num", req.SubTaskCount).
		Msg("requesting plan")

	messages := BuildMessages(req.Identity, req.CoreTaskCount, req.SubTaskCount)
	content, err := g.completer.Complete(ctx, provider, messages)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return nil, &llm.MalformedResponseError{Provider: string(selector), Reason: "completion is not valid JSON", Err: err}
	}
	if _, ok := decoded.(map[string]any); !ok {
		return nil, &llm.MalformedResponseError{Provider: string(selector), Reason: "completion is not a JSON object"}
	}

	if err := validatePlanShape(decoded, req.CoreTaskCount, req.SubTaskCount); err != nil {
		if g.strictSchema {
			return nil, &llm.MalformedResponseError{Provider: string(selector), Reason: "plan shape mismatch", Err: err}
		}
		log.Warn().
			Err(err).
			Str("request_id", middleware.GetRequestIDFromContext(ctx)).
			Str("component", "planner").
			Str("provider", string(selector)).
			Msg("plan shape differs from request, returning it unchanged")
	}

	return domain.NewTaskPlan(json.RawMessage(content)), nil
}
