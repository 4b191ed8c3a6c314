package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testEngine(cfg Config) *Engine {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
}

// stubClassifier returns a fixed classification or error.
type stubClassifier struct {
	cls   Classification
	err   error
	calls int
}

func (s *stubClassifier) Classify(context.Context, ClassifyRequest) (Classification, error) {
	s.calls++
	if s.err != nil {
		return Classification{}, s.err
	}
	return s.cls, nil
}

func TestEvaluateTurn_NonsenseFirstTurn(t *testing.T) {
	e := testEngine(Config{})
	st := NewState("c1")

	out, err := e.EvaluateTurn(context.Background(), st, "Skinna marinka dinka dink", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}

	if out.Classification.Pattern != PatternHonestAttempt {
		t.Errorf("pattern = %s, want honest_attempt", out.Classification.Pattern)
	}
	if out.State.HonestStrikes != 1 {
		t.Errorf("honest = %d, want 1", out.State.HonestStrikes)
	}
	if out.State.NonEngagementStrikes != 0 {
		t.Errorf("non-engagement = %d, want 0", out.State.NonEngagementStrikes)
	}
	if out.State.Stage != StageCollectingName {
		t.Errorf("stage = %s, want collecting_name", out.State.Stage)
	}
	if out.Action != ActionContinue {
		t.Errorf("action = %s, want continue", out.Action)
	}
	if out.State.Turns != 1 {
		t.Errorf("turns = %d, want 1", out.State.Turns)
	}
}

func TestEvaluateTurn_GreetingThenBrushOffTriggersFailsafe(t *testing.T) {
	e := testEngine(Config{})
	ctx := context.Background()
	st := NewState("c1")

	out, err := e.EvaluateTurn(ctx, st, "hey", nil)
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if out.State.NonEngagementStrikes != 1 {
		t.Fatalf("non-engagement after greeting = %d, want 1", out.State.NonEngagementStrikes)
	}
	if out.FailsafeTriggered {
		t.Fatal("greeting alone should not trigger failsafe")
	}

	out, err = e.EvaluateTurn(ctx, out.State, "whatever", nil)
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if out.State.NonEngagementStrikes != 3 {
		t.Errorf("non-engagement = %d, want 3", out.State.NonEngagementStrikes)
	}
	if out.State.Stage != StageFailsafe {
		t.Errorf("stage = %s, want failsafe", out.State.Stage)
	}
	if !out.FailsafeTriggered {
		t.Error("failsafe flag not set")
	}
	if out.Action != ActionFailsafe {
		t.Errorf("action = %s, want failsafe", out.Action)
	}
}

func TestEvaluateTurn_NameCapture(t *testing.T) {
	e := testEngine(Config{})
	st := NewState("c1")

	out, err := e.EvaluateTurn(context.Background(), st, "My name is Sarah", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}

	if out.State.Name != "Sarah" {
		t.Errorf("name = %q, want Sarah", out.State.Name)
	}
	if out.State.Stage != StageVerifyingName {
		t.Errorf("stage = %s, want verifying_name", out.State.Stage)
	}
	if out.Action != ActionVerify {
		t.Errorf("action = %s, want verify", out.Action)
	}
	if !strings.Contains(out.Reply, "Sarah") {
		t.Errorf("verification reply should mention the name, got %q", out.Reply)
	}
}

func TestEvaluateTurn_HappyPath(t *testing.T) {
	e := testEngine(Config{})
	ctx := context.Background()

	var outcomes []State
	e.SetOutcomeFunc(func(_ context.Context, st State) { outcomes = append(outcomes, st) })

	st := NewState("c1")

	out, err := e.EvaluateTurn(ctx, st, "My name is Sarah", nil)
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}

	out, err = e.EvaluateTurn(ctx, out.State, "yes", nil)
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if out.State.Stage != StageCollectingIntent {
		t.Fatalf("stage after confirm = %s, want collecting_intent", out.State.Stage)
	}

	out, err = e.EvaluateTurn(ctx, out.State, "I need help with my order", nil)
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}

	if out.State.Stage != StageComplete {
		t.Errorf("stage = %s, want complete", out.State.Stage)
	}
	if out.Action != ActionHandoff {
		t.Errorf("action = %s, want handoff", out.Action)
	}
	if out.State.Intent != "I need help with my order" {
		t.Errorf("intent = %q", out.State.Intent)
	}
	if out.State.Turns != 3 {
		t.Errorf("turns = %d, want 3", out.State.Turns)
	}
	if out.FailsafeTriggered {
		t.Error("failsafe flag set on a completed flow")
	}

	if len(outcomes) != 1 {
		t.Fatalf("outcome reported %d times, want 1", len(outcomes))
	}
	if outcomes[0].Stage != StageComplete || outcomes[0].Name != "Sarah" {
		t.Errorf("reported outcome = %+v", outcomes[0])
	}
}

func TestEvaluateTurn_DenialClearsName(t *testing.T) {
	e := testEngine(Config{})
	st := NewState("c1")
	st.Stage = StageVerifyingName
	st.Name = "Sarah"

	out, err := e.EvaluateTurn(context.Background(), st, "no", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}

	if out.State.Name != "" {
		t.Errorf("name = %q, want cleared", out.State.Name)
	}
	if out.State.Stage != StageCollectingName {
		t.Errorf("stage = %s, want collecting_name", out.State.Stage)
	}
	if out.Reply == "" {
		t.Error("expected a retry reply")
	}
}

func TestEvaluateTurn_CorrectionWithReplacement(t *testing.T) {
	e := testEngine(Config{})
	st := NewState("c1")
	st.Stage = StageVerifyingName
	st.Name = "Sarah"

	out, err := e.EvaluateTurn(context.Background(), st, "no, it's Dana", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}

	if out.State.Name != "Dana" {
		t.Errorf("name = %q, want Dana", out.State.Name)
	}
	if out.State.Stage != StageVerifyingName {
		t.Errorf("stage = %s, want verifying_name (re-verify the replacement)", out.State.Stage)
	}
	if out.Action != ActionVerify {
		t.Errorf("action = %s, want verify", out.Action)
	}
}

func TestEvaluateTurn_TerminalStagesAbsorb(t *testing.T) {
	e := testEngine(Config{})
	ctx := context.Background()

	for _, stage := range []Stage{StageComplete, StageFailsafe} {
		t.Run(string(stage), func(t *testing.T) {
			st := NewState("c1")
			st.Stage = stage
			st.HonestStrikes = 2
			st.NonEngagementStrikes = 1
			st.Turns = 8

			out, err := e.EvaluateTurn(ctx, st, "hello again", nil)
			if err != nil {
				t.Fatalf("EvaluateTurn: %v", err)
			}

			if out.State.Stage != stage {
				t.Errorf("stage = %s, want %s", out.State.Stage, stage)
			}
			if out.State.HonestStrikes != 2 || out.State.NonEngagementStrikes != 1 {
				t.Error("terminal stage mutated a counter")
			}
			if out.State.Turns != 8 {
				t.Errorf("turns = %d, want 8 (no counting past terminal)", out.State.Turns)
			}
			if out.Reply == "" {
				t.Error("terminal stages still reply with the scripted line")
			}
		})
	}
}

func TestEvaluateTurn_ClassifierFailureFallsBack(t *testing.T) {
	e := testEngine(Config{})
	stub := &stubClassifier{err: errors.New("model offline")}
	e.SetClassifier(stub)

	st := NewState("c1")
	out, err := e.EvaluateTurn(context.Background(), st, "My name is Sarah", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}

	if stub.calls != 1 {
		t.Errorf("primary classifier called %d times, want 1", stub.calls)
	}
	if out.Classification.Source != SourceHeuristic {
		t.Errorf("source = %q, want heuristic", out.Classification.Source)
	}
	// The fallback still drives the flow forward.
	if out.State.Name != "Sarah" || out.State.Stage != StageVerifyingName {
		t.Errorf("state = %+v, fallback should still capture", out.State)
	}
}

func TestEvaluateTurn_PrimaryClassifierWins(t *testing.T) {
	e := testEngine(Config{})
	e.SetClassifier(&stubClassifier{cls: Classification{
		Pattern:   PatternGenuine,
		Candidate: "Raven",
		Source:    SourceLLM,
	}})

	st := NewState("c1")
	out, err := e.EvaluateTurn(context.Background(), st, "people know me as the raven", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}

	if out.Classification.Source != SourceLLM {
		t.Errorf("source = %q, want llm", out.Classification.Source)
	}
	if out.State.Name != "Raven" {
		t.Errorf("name = %q, want Raven", out.State.Name)
	}
}

func TestEvaluateTurn_ResetOnCapture(t *testing.T) {
	e := testEngine(Config{})
	st := NewState("c1")
	st.HonestStrikes = 3
	st.NonEngagementStrikes = 1

	out, err := e.EvaluateTurn(context.Background(), st, "My name is Sarah", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}

	if out.State.HonestStrikes != 0 {
		t.Errorf("honest = %d, want 0 after capture", out.State.HonestStrikes)
	}
	if out.State.NonEngagementStrikes != 1 {
		t.Errorf("non-engagement = %d, want 1 (honest-only reset)", out.State.NonEngagementStrikes)
	}
}

func TestEvaluateTurn_HonestLimitTriggersFailsafe(t *testing.T) {
	e := testEngine(Config{})
	ctx := context.Background()
	st := NewState("c1")

	var out Outcome
	var err error
	for i := 0; i < 5; i++ {
		out, err = e.EvaluateTurn(ctx, st, "Skinna marinka dinka dink", nil)
		if err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
		st = out.State
	}

	if st.HonestStrikes != 5 {
		t.Errorf("honest = %d, want 5", st.HonestStrikes)
	}
	if st.Stage != StageFailsafe {
		t.Errorf("stage = %s, want failsafe after five honest strikes", st.Stage)
	}
	if !out.FailsafeTriggered {
		t.Error("failsafe flag not set")
	}
}

func TestEvaluateTurn_MaxTurns(t *testing.T) {
	// High limits so only the turn cap can end the flow.
	e := testEngine(Config{
		Limits:   Limits{Honest: 100, NonEngagement: 100},
		MaxTurns: 3,
	})
	ctx := context.Background()
	st := NewState("c1")

	var out Outcome
	var err error
	for i := 0; i < 3; i++ {
		out, err = e.EvaluateTurn(ctx, st, "hmm let me think", nil)
		if err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
		st = out.State
	}

	if st.Stage != StageFailsafe {
		t.Errorf("stage = %s, want failsafe at the turn cap", st.Stage)
	}
}

func TestEvaluateTurn_CompletionOnFinalTurnBeatsCap(t *testing.T) {
	e := testEngine(Config{
		Limits:   Limits{Honest: 100, NonEngagement: 100},
		MaxTurns: 1,
	})
	st := NewState("c1")
	st.Stage = StageCollectingIntent
	st.Name = "Sarah"

	out, err := e.EvaluateTurn(context.Background(), st, "I need help with billing", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}
	if out.State.Stage != StageComplete {
		t.Errorf("stage = %s, want complete (capture on the last allowed turn)", out.State.Stage)
	}
}

func TestEvaluateTurn_ReplyFromLLM(t *testing.T) {
	e := testEngine(Config{ReplyModel: "qwen3:4b"})
	replier := &stubLLM{content: "Welcome in! What should I call you?"}
	e.SetReplier(replier)

	var usages []TokenUsage
	e.SetUsageFunc(func(_ context.Context, u TokenUsage) { usages = append(usages, u) })

	st := NewState("c1")
	out, err := e.EvaluateTurn(context.Background(), st, "hmm not sure yet", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}

	if out.Reply != "Welcome in! What should I call you?" {
		t.Errorf("reply = %q", out.Reply)
	}
	if len(usages) != 1 || usages[0].Purpose != "reply" {
		t.Errorf("usage records = %+v, want one reply record", usages)
	}
}

func TestEvaluateTurn_ReplyFallsBackToScript(t *testing.T) {
	e := testEngine(Config{ReplyModel: "qwen3:4b"})
	e.SetReplier(&stubLLM{err: errors.New("model offline")})

	st := NewState("c1")
	out, err := e.EvaluateTurn(context.Background(), st, "hmm not sure yet", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}
	if out.Reply == "" {
		t.Error("expected the scripted line when reply generation fails")
	}
}

func TestEvaluateTurn_FailsafeReplyIsScripted(t *testing.T) {
	// Even with a working replier the closing line is deterministic.
	e := testEngine(Config{ReplyModel: "qwen3:4b"})
	e.SetReplier(&stubLLM{content: "improvised farewell"})

	st := NewState("c1")
	st.NonEngagementStrikes = 2

	out, err := e.EvaluateTurn(context.Background(), st, "whatever", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}
	if out.State.Stage != StageFailsafe {
		t.Fatalf("stage = %s, want failsafe", out.State.Stage)
	}
	if out.Reply == "improvised farewell" {
		t.Error("failsafe reply should come from the script, not the model")
	}
}

func TestEvaluateTurn_SanitizesMarkup(t *testing.T) {
	e := testEngine(Config{})
	st := NewState("c1")

	out, err := e.EvaluateTurn(context.Background(), st, "<p>My name is <b>Sarah</b></p>", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}
	if out.State.Name != "Sarah" {
		t.Errorf("name = %q, want Sarah extracted from markup", out.State.Name)
	}
}

func TestEvaluateTurn_NormalizesMalformedState(t *testing.T) {
	e := testEngine(Config{})
	st := State{
		ConversationID: "c1",
		Stage:          "garbage",
		HonestStrikes:  -5,
	}

	out, err := e.EvaluateTurn(context.Background(), st, "My name is Sarah", nil)
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}
	if out.State.Stage != StageVerifyingName {
		t.Errorf("stage = %s, want verifying_name from a repaired state", out.State.Stage)
	}
	if out.State.HonestStrikes != 0 {
		t.Errorf("honest = %d, want clamped to 0", out.State.HonestStrikes)
	}
}

func TestEvaluateTurn_CancelledContext(t *testing.T) {
	e := testEngine(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.EvaluateTurn(ctx, NewState("c1"), "hello", nil); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestEvaluateTurn_StateIsValueNotShared(t *testing.T) {
	e := testEngine(Config{})
	st := NewState("c1")

	if _, err := e.EvaluateTurn(context.Background(), st, "hey", nil); err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}
	if st.NonEngagementStrikes != 0 || st.Turns != 0 {
		t.Error("input state mutated; evaluation must be value in, value out")
	}
}
