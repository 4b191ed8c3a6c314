package prompts

import "fmt"

// replyTemplate is the prompt sent to the LLM to phrase the next system
// utterance. Format verbs: (1) assistant name, (2) stage goal block,
// (3) recent transcript.
const replyTemplate = `You are %s, the front-desk assistant greeting a visitor before their
conversation is handed to the main assistant. Reply with one or two
short, warm sentences. No lists, no markdown, no stage directions.

%s

Recent conversation:
%s

Reply:`

// pressureHint is appended to the goal block when strikes are
// accumulating, so the model eases off rather than pushing harder.
const pressureHint = "\nThe visitor seems reluctant. Keep it brief and easygoing; do not repeat earlier phrasings word for word."

// ReplyPrompt returns the fully interpolated reply-generation prompt.
// The caller passes the assistant's display name, the stage the
// conversation is now in, the captured name (may be empty), a recent
// transcript, and whether strike pressure is building.
func ReplyPrompt(assistantName, stage, capturedName, transcript string, pressured bool) string {
	var goal string
	switch stage {
	case "verifying_name":
		goal = fmt.Sprintf("Goal: confirm you heard the name right. You believe the visitor is called %q; ask them to confirm it.", capturedName)
	case "collecting_intent":
		if capturedName != "" {
			goal = fmt.Sprintf("Goal: learn why %s is here today. Thank them by name, then ask what brings them in.", capturedName)
		} else {
			goal = "Goal: learn why the visitor is here today. Ask what brings them in."
		}
	default:
		goal = "Goal: learn the visitor's name. Ask naturally; if their last answer did not contain a name, gently try again."
	}
	if pressured {
		goal += pressureHint
	}
	if transcript == "" {
		transcript = "(first turn)"
	}
	return fmt.Sprintf(replyTemplate, assistantName, goal, transcript)
}

// ScriptedReply returns the deterministic line for a stage. Used when no
// model is reachable, and always for the terminal stages so the closing
// hand-off message is stable.
func ScriptedReply(stage, name string) string {
	switch stage {
	case "verifying_name":
		return VerifyQuestion(name)
	case "collecting_intent":
		if name != "" {
			return fmt.Sprintf("Thanks, %s! What brings you here today?", name)
		}
		return "Thanks! What brings you here today?"
	case "complete":
		if name != "" {
			return fmt.Sprintf("Perfect, %s. You're all set, connecting you now.", name)
		}
		return "Perfect. You're all set, connecting you now."
	case "failsafe":
		return "No problem at all. Let me hand you over to someone who can help directly."
	default:
		return "Hi there! Before we get going, what should I call you?"
	}
}

// ScriptedCorrection is the deterministic line after a name correction
// sends the conversation back to collecting the name.
func ScriptedCorrection() string {
	return "Sorry about that! What name should I go by?"
}

// VerifyQuestion is the confirmation question for a freshly captured name.
func VerifyQuestion(name string) string {
	return fmt.Sprintf("Nice to meet you! Just to make sure I have it right: %s, correct?", name)
}
