package buildinfo

import (
	"strings"
	"testing"
)

func TestInfo_ContainsRequiredKeys(t *testing.T) {
	info := Info()

	for _, key := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch", "uptime"} {
		if _, ok := info[key]; !ok {
			t.Errorf("Info() missing key %q", key)
		}
	}
}

func TestString_IncludesVersion(t *testing.T) {
	s := String()
	if !strings.Contains(s, Version) {
		t.Errorf("String() = %q, want it to contain version %q", s, Version)
	}
}

func TestUserAgent_Format(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "Foyer/") {
		t.Errorf("UserAgent() = %q, want Foyer/ prefix", ua)
	}
	if !strings.Contains(ua, Version) {
		t.Errorf("UserAgent() = %q, want it to contain version %q", ua, Version)
	}
}

func TestUptime_NonNegative(t *testing.T) {
	if Uptime() < 0 {
		t.Errorf("Uptime() = %v, want >= 0", Uptime())
	}
}
