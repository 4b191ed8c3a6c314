package discovery

// Stage identifies where a conversation is in the discovery flow.
type Stage string

const (
	StageCollectingName   Stage = "collecting_name"
	StageVerifyingName    Stage = "verifying_name"
	StageCollectingIntent Stage = "collecting_intent"
	StageComplete         Stage = "complete"
	StageFailsafe         Stage = "failsafe"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageCollectingName, StageVerifyingName, StageCollectingIntent,
		StageComplete, StageFailsafe:
		return true
	}
	return false
}

// Terminal reports whether the flow is finished. Terminal stages absorb
// all further input without mutating the session.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailsafe
}

// Pattern labels the engagement quality of one utterance.
type Pattern string

const (
	// PatternGenuine directly provides what the stage asks for. No strike.
	PatternGenuine Pattern = "genuine"
	// PatternHonestAttempt engages with the question without producing a
	// usable answer. Feeds the honest counter.
	PatternHonestAttempt Pattern = "honest_attempt"
	// PatternDismissive brushes the question off without hostility.
	// Feeds the non-engagement counter.
	PatternDismissive Pattern = "dismissive"
	// PatternNonEngagement refuses or ignores the conversation outright.
	// Feeds the non-engagement counter.
	PatternNonEngagement Pattern = "non_engagement"
)

// Valid reports whether p is a known pattern.
func (p Pattern) Valid() bool {
	switch p {
	case PatternGenuine, PatternHonestAttempt, PatternDismissive, PatternNonEngagement:
		return true
	}
	return false
}

// Action tells the caller what to do after a turn.
type Action string

const (
	ActionContinue Action = "continue" // keep the dialogue going
	ActionVerify   Action = "verify"   // a captured name awaits confirmation
	ActionHandoff  Action = "handoff"  // discovery complete, route to the main assistant
	ActionFailsafe Action = "failsafe" // limits breached, route to the failsafe handler
)

// actionForStage maps the post-turn stage to the caller's next move.
func actionForStage(s Stage) Action {
	switch s {
	case StageVerifyingName:
		return ActionVerify
	case StageComplete:
		return ActionHandoff
	case StageFailsafe:
		return ActionFailsafe
	default:
		return ActionContinue
	}
}
