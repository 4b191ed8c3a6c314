package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, nil); err != nil {
		t.Fatalf("run with no args: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: foyer") {
		t.Errorf("usage text missing:\n%s", out.String())
	}
	for _, cmd := range []string{"serve", "chat", "init", "version"} {
		if !strings.Contains(out.String(), cmd) {
			t.Errorf("usage missing command %q", cmd)
		}
	}
}

func TestRun_Help(t *testing.T) {
	for _, flag := range []string{"-h", "-help", "--help"} {
		var out, errOut bytes.Buffer
		if err := run(context.Background(), &out, &errOut, []string{flag}); err != nil {
			t.Errorf("run %s: %v", flag, err)
		}
		if !strings.Contains(out.String(), "Usage: foyer") {
			t.Errorf("%s did not print usage", flag)
		}
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"-bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("error = %v, want unknown flag", err)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("error = %v, want unknown command", err)
	}
}

func TestRun_BadOutputFormat(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"-o", "yaml", "version"})
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Errorf("error = %v, want unknown output format", err)
	}
}

func TestRunVersion_Text(t *testing.T) {
	var out bytes.Buffer

	if err := runVersion(&out, "text"); err != nil {
		t.Fatalf("runVersion: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Foyer") {
		t.Errorf("version output missing product name:\n%s", text)
	}
	for _, field := range []string{"version:", "go_version:", "os:", "arch:"} {
		if !strings.Contains(text, field) {
			t.Errorf("version output missing %q", field)
		}
	}
}

func TestRunVersion_JSON(t *testing.T) {
	var out bytes.Buffer

	if err := runVersion(&out, "json"); err != nil {
		t.Fatalf("runVersion: %v", err)
	}

	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version output is not valid JSON: %v\n%s", err, out.String())
	}
	if info["version"] == "" {
		t.Error("version field empty")
	}
	if info["go_version"] == "" {
		t.Error("go_version field empty")
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	if err := runInit(&out, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	cfgPath := filepath.Join(dir, "foyer.yaml")
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("starter config not written: %v", err)
	}
	for _, key := range []string{"listen:", "models:", "discovery:", "data_dir:"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("starter config missing %q", key)
		}
	}
	if !strings.Contains(out.String(), "foyer.yaml") {
		t.Errorf("output does not mention the written path:\n%s", out.String())
	}

	// A second init must not clobber the existing file.
	if err := runInit(&out, dir); err == nil {
		t.Error("expected refusal to overwrite existing config")
	}
}

func TestRunServe_MissingConfig(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"-config", "/nonexistent/foyer.yaml", "serve"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want config not found", err)
	}
}
