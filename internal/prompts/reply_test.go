package prompts

import (
	"strings"
	"testing"
)

func TestReplyPrompt(t *testing.T) {
	result := ReplyPrompt("Foyer", "collecting_intent", "Sarah", "visitor: my name is Sarah", false)

	if !strings.Contains(result, "You are Foyer") {
		t.Error("prompt should contain the assistant name")
	}
	if !strings.Contains(result, "why Sarah is here") {
		t.Error("prompt should contain the stage goal with the name")
	}
	if !strings.Contains(result, "visitor: my name is Sarah") {
		t.Error("prompt should contain the transcript")
	}
	if strings.Contains(result, "reluctant") {
		t.Error("unpressured prompt should not carry the pressure hint")
	}
}

func TestReplyPrompt_Pressured(t *testing.T) {
	result := ReplyPrompt("Foyer", "collecting_name", "", "", true)
	if !strings.Contains(result, "reluctant") {
		t.Error("pressured prompt should carry the pressure hint")
	}
	if !strings.Contains(result, "(first turn)") {
		t.Error("empty transcript should render as (first turn)")
	}
}

func TestReplyPrompt_VerifyingGoal(t *testing.T) {
	result := ReplyPrompt("Foyer", "verifying_name", "Dana", "visitor: it's Dana", false)
	if !strings.Contains(result, `called "Dana"`) {
		t.Error("verifying goal should quote the captured name")
	}
}

func TestScriptedReply(t *testing.T) {
	tests := []struct {
		stage string
		name  string
		want  string
	}{
		{"collecting_name", "", "what should I call you"},
		{"verifying_name", "Sarah", "Sarah, correct?"},
		{"collecting_intent", "Sarah", "Thanks, Sarah"},
		{"collecting_intent", "", "What brings you here"},
		{"complete", "Sarah", "Perfect, Sarah"},
		{"failsafe", "", "hand you over"},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			got := ScriptedReply(tt.stage, tt.name)
			if !strings.Contains(got, tt.want) {
				t.Errorf("ScriptedReply(%s, %q) = %q, want substring %q", tt.stage, tt.name, got, tt.want)
			}
		})
	}
}

func TestScriptedReply_Deterministic(t *testing.T) {
	a := ScriptedReply("collecting_name", "")
	b := ScriptedReply("collecting_name", "")
	if a != b {
		t.Error("scripted replies must be stable")
	}
}

func TestVerifyQuestion(t *testing.T) {
	got := VerifyQuestion("Alex")
	if !strings.Contains(got, "Alex") {
		t.Errorf("VerifyQuestion should contain the name, got %q", got)
	}
}
