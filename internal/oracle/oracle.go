// Package oracle implements the AI fallback consulted when the rule based
// classifier cannot place a screen with enough confidence.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/llmutil"
)

var (
	// ErrInvalidDecision is returned for a decision that cannot be applied to the current snapshot.
	ErrInvalidDecision = errors.New("oracle: invalid decision")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("oracle: unavailable")
)

// contentGenerator is the slice of the genai client the oracle uses. Tests
// substitute a fake.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiOracle asks a Gemini model for the next action.
type GeminiOracle struct {
	gen         contentGenerator
	model       string
	temperature float32
	maxElements int
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	logger      *zap.Logger
}

// NewFromConfig builds the oracle from configuration. A disabled oracle is
// returned as a nil interface so callers can compare against nil.
func NewFromConfig(ctx context.Context, cfg config.OracleConfig, logger *zap.Logger) (schemas.Oracle, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return newGeminiOracle(client.Models, cfg, logger), nil
}

func newGeminiOracle(gen contentGenerator, cfg config.OracleConfig, logger *zap.Logger) *GeminiOracle {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	maxElements := cfg.MaxElements
	if maxElements <= 0 {
		maxElements = 80
	}
	logger = logger.Named("oracle")

	o := &GeminiOracle{
		gen:         gen,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxElements: maxElements,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		logger:      logger,
	}
	o.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oracle",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Oracle circuit breaker changed state",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return o
}

// decision is the JSON shape the model is instructed to answer with.
type decision struct {
	Action    string `json:"action"`
	Index     *int   `json:"index,omitempty"`
	Text      string `json:"text,omitempty"`
	Direction string `json:"direction,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// Decide asks the model for the next action. The result is parsed but not
// validated against the snapshot; see Validate.
func (o *GeminiOracle) Decide(ctx context.Context, snap *schemas.ScreenSnapshot, goal schemas.GoalContext) (schemas.Action, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return schemas.Action{}, err
	}

	prompt := buildPrompt(snap, goal, o.maxElements)
	out, err := o.breaker.Execute(func() (interface{}, error) {
		resp, err := o.gen.GenerateContent(ctx, o.model, genai.Text(prompt), &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr(o.temperature),
			ResponseMIMEType:  "application/json",
		})
		if err != nil {
			return nil, err
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("empty model response")
		}
		return text, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return schemas.Action{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return schemas.Action{}, fmt.Errorf("generating decision: %w", err)
	}

	d, err := llmutil.ParseJSONResponse[decision](out.(string))
	if err != nil {
		return schemas.Action{}, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	action := d.toAction()
	o.logger.Debug("Oracle decided",
		zap.Stringer("action", action),
		zap.String("rationale", llmutil.Truncate(action.Rationale, 200)))
	return action, nil
}

func (d decision) toAction() schemas.Action {
	a := schemas.Action{
		Type:      schemas.ActionType(strings.ToLower(strings.TrimSpace(d.Action))),
		Text:      d.Text,
		Direction: schemas.Direction(strings.ToLower(d.Direction)),
		Purpose:   schemas.Purpose(strings.ToLower(d.Purpose)),
		Rationale: d.Rationale,
		Index:     -1,
	}
	if d.Index != nil {
		a.Index = *d.Index
	}
	return a
}

var knownPurposes = map[schemas.Purpose]bool{
	schemas.PurposeNone:        true,
	schemas.PurposeSelectMedia: true,
	schemas.PurposeCaption:     true,
	schemas.PurposeSubmit:      true,
	schemas.PurposeFollow:      true,
	schemas.PurposeSearch:      true,
	schemas.PurposeDismiss:     true,
	schemas.PurposeNavigate:    true,
}

// Validate checks an oracle decision against the snapshot it was made for.
// Element references must resolve inside the snapshot and on screen. The
// oracle may never fail a session, and may only finish one that has submitted.
func Validate(a schemas.Action, snap *schemas.ScreenSnapshot, state schemas.SessionState) error {
	if !knownPurposes[a.Purpose] {
		return fmt.Errorf("%w: unknown purpose %q", ErrInvalidDecision, a.Purpose)
	}
	switch a.Type {
	case schemas.ActionTap, schemas.ActionTapAndType:
		el, ok := snap.Element(a.Index)
		if !ok {
			return fmt.Errorf("%w: index %d outside snapshot of %d elements", ErrInvalidDecision, a.Index, snap.Len())
		}
		if el.Bounds.Empty() || !snap.ScreenBounds().Contains(el.Center) {
			return fmt.Errorf("%w: element %d has no on-screen area", ErrInvalidDecision, a.Index)
		}
		if a.Type == schemas.ActionTapAndType && a.Text == "" {
			return fmt.Errorf("%w: tap_and_type without text", ErrInvalidDecision)
		}
	case schemas.ActionSwipe:
		if !a.Direction.Valid() {
			return fmt.Errorf("%w: swipe direction %q", ErrInvalidDecision, a.Direction)
		}
	case schemas.ActionPressBack, schemas.ActionPressHome, schemas.ActionWait:
	case schemas.ActionDone:
		if !state.Submitted {
			return fmt.Errorf("%w: done before the goal was submitted", ErrInvalidDecision)
		}
	case schemas.ActionFail:
		return fmt.Errorf("%w: the oracle may not fail a session", ErrInvalidDecision)
	default:
		return fmt.Errorf("%w: action type %q", ErrInvalidDecision, a.Type)
	}
	return nil
}
