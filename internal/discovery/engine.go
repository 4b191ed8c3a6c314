// Package discovery implements the onboarding flow that captures a
// visitor's name and stated intent through free-form dialogue before
// the conversation is handed to the main assistant.
//
// Each turn is one evaluation: classify the utterance (LLM first,
// deterministic heuristic on any failure), apply weighted strikes
// toward two independent limits, advance the stage machine, and phrase
// the next system utterance. Session state is a value passed in and
// returned, never shared, so a single engine serves every conversation
// concurrently.
package discovery

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/foyerhq/foyer/internal/llm"
	"github.com/foyerhq/foyer/internal/prompts"
	"github.com/foyerhq/foyer/internal/sanitize"
)

// DefaultMaxTurns caps how long a discovery dialogue may drag on before
// the failsafe takes it over.
const DefaultMaxTurns = 30

const replyTemperature = 0.7

// Outcome is the full result of one discovery turn.
type Outcome struct {
	State             State          `json:"state"`
	Reply             string         `json:"reply"`
	Action            Action         `json:"action"`
	FailsafeTriggered bool           `json:"failsafe_triggered"`
	Classification    Classification `json:"classification"`
}

// TokenUsage describes one LLM call for the accounting hook.
type TokenUsage struct {
	ConversationID string
	Purpose        string // "classify" or "reply"
	Model          string
	Provider       string
	InputTokens    int
	OutputTokens   int
}

// UsageFunc records token usage for one LLM call. Wired from main with
// the usage store; nil disables accounting.
type UsageFunc func(ctx context.Context, u TokenUsage)

// OutcomeFunc reports a terminal outcome (complete or failsafe) to an
// external handler. Wired from main with the events publisher; nil
// disables reporting.
type OutcomeFunc func(ctx context.Context, st State)

// Config holds the engine's tunables. Zero values fall back to the
// package defaults.
type Config struct {
	Limits         Limits
	Weights        Weights
	MaxTurns       int // total turns before failsafe; negative disables the cap
	AssistantName  string
	ReplyModel     string
	MaxReplyTokens int
}

// Engine evaluates discovery turns.
type Engine struct {
	classifier Classifier
	fallback   *HeuristicClassifier
	replier    llm.Client
	cfg        Config
	logger     *slog.Logger
	outcome    OutcomeFunc
	usage      UsageFunc
}

// New creates an engine. The LLM classifier and replier are optional
// and attach via the setters; without them the engine is fully
// deterministic (heuristic classification, scripted replies).
func New(logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limits.Honest <= 0 {
		cfg.Limits.Honest = DefaultLimits().Honest
	}
	if cfg.Limits.NonEngagement <= 0 {
		cfg.Limits.NonEngagement = DefaultLimits().NonEngagement
	}
	if cfg.Limits.ResetOnCapture == "" {
		cfg.Limits.ResetOnCapture = ResetHonest
	}
	cfg.Weights = cfg.Weights.Normalize()
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = DefaultMaxTurns
	} else if cfg.MaxTurns < 0 {
		cfg.MaxTurns = 0
	}
	if cfg.AssistantName == "" {
		cfg.AssistantName = "Foyer"
	}
	if cfg.MaxReplyTokens == 0 {
		cfg.MaxReplyTokens = 256
	}
	fallback := NewHeuristicClassifier()
	fallback.SetWeights(cfg.Weights)
	return &Engine{
		fallback: fallback,
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
	}
}

// SetClassifier attaches the primary (LLM) classifier.
func (e *Engine) SetClassifier(c Classifier) {
	e.classifier = c
}

// SetReplier attaches the LLM client used to phrase replies.
func (e *Engine) SetReplier(client llm.Client) {
	e.replier = client
}

// SetOutcomeFunc configures terminal outcome reporting.
func (e *Engine) SetOutcomeFunc(fn OutcomeFunc) {
	e.outcome = fn
}

// SetUsageFunc configures token accounting for reply calls.
func (e *Engine) SetUsageFunc(fn UsageFunc) {
	e.usage = fn
}

// Limits returns the thresholds the engine is running with.
func (e *Engine) Limits() Limits {
	return e.cfg.Limits
}

// EvaluateTurn scores one visitor utterance and advances the discovery
// flow. State is a value: the caller persists the returned copy. The
// only blocking points are the classifier and reply calls, and both
// degrade to deterministic local behavior on failure, so a turn never
// fails once it is underway.
func (e *Engine) EvaluateTurn(ctx context.Context, st State, utterance string, history []HistoryEntry) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	st = st.Normalize()

	// Terminal stages absorb further input without mutation.
	if st.Stage.Terminal() {
		return Outcome{
			State:             st,
			Reply:             prompts.ScriptedReply(string(st.Stage), st.Name),
			Action:            actionForStage(st.Stage),
			FailsafeTriggered: st.Stage == StageFailsafe,
		}, nil
	}

	utterance = sanitize.Utterance(utterance)

	cls := e.classify(ctx, ClassifyRequest{
		ConversationID: st.ConversationID,
		Utterance:      utterance,
		Stage:          st.Stage,
		Name:           st.Name,
		Intent:         st.Intent,
		History:        history,
	})

	prevStage := st.Stage
	st.Turns++
	st.UpdatedAt = time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = st.UpdatedAt
	}

	var corrected bool
	st, breached := applyStrike(st, cls, e.cfg.Limits)
	if breached {
		st.Stage = StageFailsafe
	} else {
		st, corrected = advance(st, cls, e.cfg.Limits)
		if !st.Stage.Terminal() && e.cfg.MaxTurns > 0 && st.Turns >= e.cfg.MaxTurns {
			e.logger.Info("turn limit reached", "conversation", st.ConversationID, "turns", st.Turns)
			st.Stage = StageFailsafe
		}
	}

	convo := make([]HistoryEntry, 0, len(history)+1)
	convo = append(convo, history...)
	convo = append(convo, HistoryEntry{Role: "visitor", Content: utterance})

	reply := e.reply(ctx, st, convo, corrected)

	e.logger.Debug("turn evaluated",
		"conversation", st.ConversationID,
		"turn", st.Turns,
		"stage", prevStage,
		"next_stage", st.Stage,
		"pattern", cls.Pattern,
		"weight", cls.Weight,
		"source", cls.Source,
		"honest", st.HonestStrikes,
		"non_engagement", st.NonEngagementStrikes,
	)

	if st.Stage.Terminal() {
		if st.Stage == StageFailsafe {
			e.logger.Info("failsafe triggered",
				"conversation", st.ConversationID,
				"honest", st.HonestStrikes,
				"non_engagement", st.NonEngagementStrikes,
				"turns", st.Turns,
			)
		} else {
			e.logger.Info("discovery complete",
				"conversation", st.ConversationID,
				"name", st.Name,
				"turns", st.Turns,
			)
		}
		if e.outcome != nil {
			e.outcome(ctx, st)
		}
	}

	return Outcome{
		State:             st,
		Reply:             reply,
		Action:            actionForStage(st.Stage),
		FailsafeTriggered: st.Stage == StageFailsafe,
		Classification:    cls,
	}, nil
}

// classify runs the primary classifier and falls back to the
// deterministic heuristic on any failure. Classification never fails
// the turn.
func (e *Engine) classify(ctx context.Context, req ClassifyRequest) Classification {
	if e.classifier != nil {
		cls, err := e.classifier.Classify(ctx, req)
		if err == nil {
			return cls
		}
		e.logger.Warn("classifier failed, using heuristic fallback",
			"conversation", req.ConversationID,
			"stage", req.Stage,
			"error", err,
		)
	}
	cls, _ := e.fallback.Classify(ctx, req)
	return cls
}

// advance applies capture, confirmation, and correction semantics for
// the current stage. Strike-pattern utterances never carry a usable
// candidate, so there is no capture-versus-strike conflict to resolve.
// The second return reports a correction that reopened name collection
// with no replacement on offer.
func advance(st State, cls Classification, limits Limits) (State, bool) {
	switch st.Stage {
	case StageCollectingName:
		if cls.Pattern == PatternGenuine && cls.Candidate != "" {
			st.Name = cls.Candidate
			st.Stage = StageVerifyingName
			st = applyReset(st, limits)
		}

	case StageVerifyingName:
		switch {
		case cls.Correction || cls.Deny:
			st.Name = ""
			st.Stage = StageCollectingName
			if cls.Candidate == "" {
				return st, true
			}
			// Replacement supplied in the same breath: capture it and
			// go straight back to confirming.
			st.Name = cls.Candidate
			st.Stage = StageVerifyingName
			st = applyReset(st, limits)
		case cls.Confirm:
			st.Stage = StageCollectingIntent
			st = applyReset(st, limits)
		}

	case StageCollectingIntent:
		if cls.Pattern == PatternGenuine && cls.Candidate != "" {
			st.Intent = cls.Candidate
			st.Stage = StageComplete
			st = applyReset(st, limits)
		}
	}
	return st, false
}

// reply phrases the next system utterance. Terminal stages always use
// the scripted closing lines so the hand-off message is stable; other
// stages try the LLM first and fall back to the scripts.
func (e *Engine) reply(ctx context.Context, st State, convo []HistoryEntry, corrected bool) string {
	if st.Stage.Terminal() || e.replier == nil {
		return e.scripted(st, corrected)
	}

	pressured := st.NonEngagementStrikes > 0 || st.HonestStrikes >= e.cfg.Limits.Honest-2
	prompt := prompts.ReplyPrompt(e.cfg.AssistantName, string(st.Stage), st.Name, transcript(convo), pressured)

	resp, err := e.replier.Chat(ctx, llm.Request{
		Model:       e.cfg.ReplyModel,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:   e.cfg.MaxReplyTokens,
		Temperature: replyTemperature,
	})
	if err != nil {
		e.logger.Warn("reply generation failed, using scripted line",
			"conversation", st.ConversationID,
			"stage", st.Stage,
			"error", err,
		)
		return e.scripted(st, corrected)
	}

	if e.usage != nil {
		e.usage(ctx, TokenUsage{
			ConversationID: st.ConversationID,
			Purpose:        "reply",
			Model:          resp.Model,
			Provider:       resp.Provider,
			InputTokens:    resp.InputTokens,
			OutputTokens:   resp.OutputTokens,
		})
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return e.scripted(st, corrected)
	}
	return text
}

func (e *Engine) scripted(st State, corrected bool) string {
	if corrected {
		return prompts.ScriptedCorrection()
	}
	return prompts.ScriptedReply(string(st.Stage), st.Name)
}
