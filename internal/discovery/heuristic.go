package discovery

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

// HeuristicClassifier is the deterministic fallback used when no LLM
// verdict is available. Keyword lists and shape checks approximate the
// model's judgment with lower fidelity; the same input always yields
// the same classification.
type HeuristicClassifier struct {
	weights Weights
}

// NewHeuristicClassifier returns the deterministic fallback classifier.
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{weights: DefaultWeights()}
}

// SetWeights overrides the default per-pattern strike weights. The
// greeting-only rule keeps its fixed weight of 1; a bare "hey" is
// barely a strike no matter how brush-offs are tuned.
func (h *HeuristicClassifier) SetWeights(w Weights) {
	h.weights = w.Normalize()
}

// trimCutset strips the punctuation that wraps casual chat messages.
const trimCutset = " \t.,!?;:'\"-_*~"

// Word lists are matched against lowercased, punctuation-trimmed input.
var (
	greetingWords = map[string]bool{
		"hi": true, "hey": true, "hello": true, "heya": true, "hiya": true,
		"yo": true, "sup": true, "howdy": true, "hola": true,
	}

	brushOffs = map[string]bool{
		"whatever": true, "idk": true, "dunno": true, "meh": true,
		"nah": true, "no": true, "nope": true, "nothing": true,
		"who cares": true, "i don't know": true, "i dont know": true,
		"don't care": true, "dont care": true,
		"doesn't matter": true, "doesnt matter": true,
	}

	refusalPhrases = []string{
		"leave me alone", "go away", "get lost", "piss off", "screw you",
		"fuck", "shut up", "stop asking", "none of your business",
		"not telling", "won't tell", "wont tell", "no one", "nobody",
	}

	confirmWords = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "yup": true, "sure": true,
		"correct": true, "right": true, "exactly": true, "indeed": true,
		"that's right": true, "thats right": true,
		"that's correct": true, "thats correct": true,
		"that's me": true, "thats me": true,
	}

	denyWords = map[string]bool{
		"no": true, "nope": true, "nah": true, "wrong": true,
		"incorrect": true, "not quite": true,
		"that's wrong": true, "thats wrong": true,
		"no it's not": true, "no its not": true,
	}

	// nameStoplist rejects captures that are conversational filler
	// rather than names ("I'm good", "I'm looking for...").
	nameStoplist = map[string]bool{
		"good": true, "fine": true, "okay": true, "ok": true, "sure": true,
		"not": true, "here": true, "just": true, "so": true, "very": true,
		"really": true, "busy": true, "great": true, "well": true,
		"sorry": true, "actually": true, "gonna": true, "going": true,
		"looking": true, "trying": true, "waiting": true, "done": true,
		"still": true,
	}

	// nameFiller is skipped at the front of a raw capture before the
	// name tokens start ("actually it's Dana" captures from "it's").
	nameFiller = map[string]bool{
		"it's": true, "its": true, "it": true, "is": true,
		"actually": true, "really": true, "just": true,
		"that": true, "that's": true, "thats": true,
		"no": true, "nope": true, "nah": true,
	}

	intentMarkers = []string{
		"i need", "i want", "i'd like", "id like", "i would like",
		"here to", "here for", "here about", "looking for", "looking to",
		"trying to", "want to", "need to", "hoping to",
		"have a question", "question about", "help with", "need help",
		"interested in", "checking on", "wondering",
	}

	namePattern = regexp.MustCompile(
		`(?i)\b(?:my name(?:'s| is)|the name(?:'s| is)|name is|people call me|call me|i'?m|i am|this is|i go by|i said)\s+(.+)$`)

	correctionPattern = regexp.MustCompile(
		`(?i)\b(?:my name(?:'s| is)|the name(?:'s| is)|name is|people call me|call me|i'?m|i am|this is|i go by|i said|it'?s|it is|actually|make it)\s+(.+)$`)
)

// Classify scores an utterance using keyword and shape rules. It never
// returns an error; the signature satisfies Classifier.
func (h *HeuristicClassifier) Classify(_ context.Context, req ClassifyRequest) (Classification, error) {
	utterance := strings.TrimSpace(req.Utterance)
	lower := strings.ToLower(utterance)
	key := strings.Trim(lower, trimCutset)

	// Nothing to work with: empty input or bare punctuation runs.
	if key == "" {
		return heuristic(Classification{
			Pattern: PatternNonEngagement,
			Weight:  h.weights.NonEngagement,
			Reason:  "empty or punctuation only",
		}), nil
	}

	// Yes, no, and revised names mean more during verification than the
	// generic lists would make of them.
	if req.Stage == StageVerifyingName {
		if cls, ok := classifyVerification(utterance, lower, key, req.Name); ok {
			return heuristic(cls), nil
		}
	}

	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return heuristic(Classification{
				Pattern: PatternNonEngagement,
				Weight:  h.weights.NonEngagement,
				Reason:  "refused to engage",
			}), nil
		}
	}

	// A bare greeting ignores the question but is barely a strike.
	if greetingWords[key] {
		return heuristic(Classification{
			Pattern: PatternDismissive,
			Weight:  1,
			Reason:  "greeting only",
		}), nil
	}

	if brushOffs[key] {
		return heuristic(Classification{
			Pattern: PatternDismissive,
			Weight:  h.weights.Dismissive,
			Reason:  "brush-off",
		}), nil
	}

	switch req.Stage {
	case StageCollectingName:
		if name := extractName(utterance); name != "" {
			return heuristic(Classification{
				Pattern:   PatternGenuine,
				Candidate: name,
				Reason:    "name provided",
			}), nil
		}
	case StageCollectingIntent:
		if looksLikeIntent(utterance, lower) {
			return heuristic(Classification{
				Pattern:   PatternGenuine,
				Candidate: utterance,
				Reason:    "intent stated",
			}), nil
		}
	}

	return heuristic(Classification{
		Pattern: PatternHonestAttempt,
		Weight:  h.weights.Honest,
		Reason:  "engaged without a usable answer",
	}), nil
}

// heuristic stamps the source on a classification.
func heuristic(cls Classification) Classification {
	cls.Source = SourceHeuristic
	return cls
}

// classifyVerification handles the confirmation stage. Returns false
// when the utterance is neither agreement, rejection, nor a revision,
// so the generic rules take over.
func classifyVerification(utterance, lower, key, current string) (Classification, bool) {
	if confirmWords[key] {
		return Classification{Pattern: PatternGenuine, Confirm: true, Reason: "confirmed"}, true
	}

	// "no, it's Dana" / "actually it's Dana" / "I said Dana": repeating
	// the held name confirms it, anything else revises it.
	if name := extractCorrection(utterance); name != "" {
		if current != "" && strings.EqualFold(name, current) {
			return Classification{Pattern: PatternGenuine, Confirm: true, Reason: "repeated the name"}, true
		}
		return Classification{
			Pattern:    PatternGenuine,
			Candidate:  name,
			Correction: true,
			Deny:       true,
			Reason:     "corrected the name",
		}, true
	}

	if current != "" && strings.EqualFold(key, current) {
		return Classification{Pattern: PatternGenuine, Confirm: true, Reason: "repeated the name"}, true
	}

	if denyWords[key] || strings.HasPrefix(lower, "no ") || strings.HasPrefix(lower, "no,") {
		return Classification{Pattern: PatternGenuine, Deny: true, Reason: "denied the name"}, true
	}

	if strings.HasPrefix(lower, "yes") || strings.HasPrefix(lower, "yeah") || strings.HasPrefix(lower, "yep") {
		return Classification{Pattern: PatternGenuine, Confirm: true, Reason: "confirmed"}, true
	}

	if tok := bareNameToken(utterance); tok != "" {
		if current != "" && strings.EqualFold(tok, current) {
			return Classification{Pattern: PatternGenuine, Confirm: true, Reason: "repeated the name"}, true
		}
		return Classification{
			Pattern:    PatternGenuine,
			Candidate:  tok,
			Correction: true,
			Deny:       true,
			Reason:     "offered a different name",
		}, true
	}

	return Classification{}, false
}

// extractName pulls a name candidate from a collecting-stage utterance:
// either an introduction phrase or a lone capitalized word.
func extractName(utterance string) string {
	if m := namePattern.FindStringSubmatch(utterance); m != nil {
		if name := cleanName(m[1]); name != "" {
			return name
		}
	}
	return bareNameToken(utterance)
}

// extractCorrection is extractName with the revision phrasings that only
// make sense once a name is on the table ("it's X", "actually X").
func extractCorrection(utterance string) string {
	if m := correctionPattern.FindStringSubmatch(utterance); m != nil {
		if name := cleanName(m[1]); name != "" {
			return name
		}
	}
	return ""
}

// cleanName trims a raw capture down to a plausible name: leading
// filler dropped, at most two tokens, a second token only when it is
// capitalized, punctuation stripped, first letter uppercased.
func cleanName(raw string) string {
	fields := strings.Fields(raw)

	i := 0
	for i < len(fields) && nameFiller[strings.Trim(strings.ToLower(fields[i]), trimCutset)] {
		i++
	}
	if i >= len(fields) {
		return ""
	}

	first := strings.Trim(fields[i], trimCutset)
	if len([]rune(first)) < 2 || !alphaToken(first) {
		return ""
	}
	low := strings.ToLower(first)
	if nameStoplist[low] || greetingWords[low] || brushOffs[low] || confirmWords[low] || denyWords[low] {
		return ""
	}

	name := upperFirst(first)
	if i+1 < len(fields) {
		second := strings.Trim(fields[i+1], trimCutset)
		if second != "" && alphaToken(second) && unicode.IsUpper(firstRune(second)) {
			name += " " + second
		}
	}
	return name
}

// bareNameToken treats a lone capitalized word as a name candidate
// ("Sarah" in answer to the name question).
func bareNameToken(utterance string) string {
	fields := strings.Fields(utterance)
	if len(fields) != 1 {
		return ""
	}
	tok := strings.Trim(fields[0], trimCutset)
	if len([]rune(tok)) < 2 || !alphaToken(tok) {
		return ""
	}
	if !unicode.IsUpper(firstRune(tok)) {
		return ""
	}
	low := strings.ToLower(tok)
	if greetingWords[low] || brushOffs[low] || confirmWords[low] || denyWords[low] || nameStoplist[low] {
		return ""
	}
	return tok
}

// looksLikeIntent accepts stated-purpose phrasings, or any substantive
// statement of three words or more that is not itself a question back.
func looksLikeIntent(utterance, lower string) bool {
	for _, marker := range intentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	if strings.HasSuffix(utterance, "?") {
		return false
	}
	return len(strings.Fields(lower)) >= 3
}

func alphaToken(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && r != '\'' && r != '-' {
			return false
		}
	}
	return s != ""
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func upperFirst(s string) string {
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
