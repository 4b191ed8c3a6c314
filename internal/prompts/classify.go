package prompts

import "fmt"

// classifyTemplate is the prompt sent to the LLM to score one visitor
// utterance. Format verbs: (1) stage name, (2) stage context sentence,
// (3) recent transcript, (4) the utterance.
const classifyTemplate = `You are scoring one visitor message in an onboarding conversation.

Stage: %s
%s

Classify the visitor's latest message into exactly one pattern:

- "genuine": directly provides what the stage asks for (a name, a reason
  for visiting, or a clear yes/no while verifying). Put the extracted
  value in "candidate".
- "honest_attempt": engages with the question but does not produce a
  usable answer (confused, rambling, nonsense offered in good faith).
- "dismissive": brushes the question off without hostility ("whatever",
  "idk", or a bare greeting that ignores the question).
- "non_engagement": refuses outright, is hostile, or ignores the
  conversation entirely (demands to be left alone, empty noise).

Weights: honest_attempt is 1. dismissive is 2, or 1 when the message is
nothing but a greeting. non_engagement is 3. genuine is 0.

When the stage is verifying_name: set "confirm" true for agreement, set
"deny" true for rejection, and set "correction" true when the visitor
revises the name; put any replacement name in "candidate".

Return JSON only. Examples:

{"pattern": "genuine", "candidate": "Sarah", "weight": 0, "correction": false, "confirm": false, "deny": false, "reason": "stated their name"}

{"pattern": "honest_attempt", "candidate": "", "weight": 1, "correction": false, "confirm": false, "deny": false, "reason": "engaged but gave no usable answer"}

{"pattern": "dismissive", "candidate": "", "weight": 2, "correction": false, "confirm": false, "deny": false, "reason": "brushed the question off"}

{"pattern": "non_engagement", "candidate": "", "weight": 3, "correction": false, "confirm": false, "deny": false, "reason": "refused to engage"}

{"pattern": "genuine", "candidate": "Dana", "weight": 0, "correction": true, "confirm": false, "deny": true, "reason": "corrected the name"}

Recent conversation:
%s

Visitor: %s

JSON:`

// ClassifyPrompt returns the fully interpolated classification prompt.
// The caller passes the current stage, the captured name (empty until one
// is captured), a recent conversation transcript, and the utterance under
// classification.
func ClassifyPrompt(stage, capturedName, transcript, utterance string) string {
	var context string
	switch stage {
	case "verifying_name":
		context = fmt.Sprintf("The name waiting for confirmation is %q.", capturedName)
	case "collecting_intent":
		context = fmt.Sprintf("The visitor's name is %q; you are asking why they came.", capturedName)
	default:
		context = "No name has been captured yet; you are asking who the visitor is."
	}
	if transcript == "" {
		transcript = "(first turn)"
	}
	return fmt.Sprintf(classifyTemplate, stage, context, transcript, utterance)
}
