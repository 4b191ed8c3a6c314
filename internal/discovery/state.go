package discovery

import "time"

// State is the per-conversation session record. It is a value: the
// engine receives it, returns an updated copy, and holds no session
// data of its own between calls.
type State struct {
	ConversationID       string    `json:"conversation_id"`
	Stage                Stage     `json:"stage"`
	Name                 string    `json:"name,omitempty"`
	Intent               string    `json:"intent,omitempty"`
	HonestStrikes        int       `json:"honest_strikes"`
	NonEngagementStrikes int       `json:"non_engagement_strikes"`
	Turns                int       `json:"turns"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewState returns a fresh session at the start of the flow.
func NewState(conversationID string) State {
	now := time.Now().UTC()
	return State{
		ConversationID: conversationID,
		Stage:          StageCollectingName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Normalize repairs fields a stale or hand-edited record may carry.
// Negative counters clamp to zero; an unknown stage resets to the
// earliest stage consistent with whatever values were captured.
func (s State) Normalize() State {
	if s.HonestStrikes < 0 {
		s.HonestStrikes = 0
	}
	if s.NonEngagementStrikes < 0 {
		s.NonEngagementStrikes = 0
	}
	if s.Turns < 0 {
		s.Turns = 0
	}
	if !s.Stage.Valid() {
		switch {
		case s.Name != "" && s.Intent != "":
			s.Stage = StageComplete
		case s.Name != "":
			s.Stage = StageCollectingIntent
		default:
			s.Stage = StageCollectingName
		}
	}
	return s
}
