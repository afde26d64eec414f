package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"sentinel", "frobnicate"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "unknown command") {
		t.Fatalf("stderr = %q, want it to mention unknown command", stderr.String())
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"sentinel", "help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "sentinel <command>") {
		t.Fatalf("stdout = %q, want usage text", stdout.String())
	}
}

func TestRun_NoArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"sentinel"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestRun_Keygen(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "test-signing")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"sentinel", "keygen", "-out-prefix", prefix}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr.String())
	}
	if _, err := os.Stat(prefix + ".seed.b64"); err != nil {
		t.Errorf("seed file not written: %v", err)
	}
	if _, err := os.Stat(prefix + ".pub.b64"); err != nil {
		t.Errorf("pub file not written: %v", err)
	}
	if !strings.Contains(stdout.String(), "key_id:") {
		t.Errorf("stdout = %q, want it to report a key_id", stdout.String())
	}
}

func TestRun_RecipientKeygen(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "test-recipient")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"sentinel", "recipient-keygen", "-out-prefix", prefix}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr.String())
	}
	if _, err := os.Stat(prefix + ".priv.b64"); err != nil {
		t.Errorf("priv file not written: %v", err)
	}
	if _, err := os.Stat(prefix + ".pub.b64"); err != nil {
		t.Errorf("pub file not written: %v", err)
	}
}

func TestRun_VerifyMissingFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"sentinel", "verify"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "--log and --pubkey-b64-path are required") {
		t.Fatalf("stderr = %q, want missing-flags message", stderr.String())
	}
}

func TestSplitChildArgv(t *testing.T) {
	cases := []struct {
		name          string
		args          []string
		wantFlagArgs  []string
		wantChildArgv []string
	}{
		{"no separator", []string{"-audit-log", "x.jsonl"}, []string{"-audit-log", "x.jsonl"}, nil},
		{"with separator", []string{"-audit-log", "x.jsonl", "--", "node", "server.js"}, []string{"-audit-log", "x.jsonl"}, []string{"node", "server.js"}},
		{"separator first", []string{"--", "node", "-v"}, []string{}, []string{"node", "-v"}},
		{"empty", []string{}, []string{}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flagArgs, childArgv := splitChildArgv(tc.args)
			if !equalSlices(flagArgs, tc.wantFlagArgs) {
				t.Errorf("flagArgs = %v, want %v", flagArgs, tc.wantFlagArgs)
			}
			if !equalSlices(childArgv, tc.wantChildArgv) {
				t.Errorf("childArgv = %v, want %v", childArgv, tc.wantChildArgv)
			}
		})
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPrecheckKeyRotation_NoExistingFile(t *testing.T) {
	dir := t.TempDir()
	if err := precheckKeyRotation(filepath.Join(dir, "missing.jsonl"), "key-a"); err != nil {
		t.Fatalf("expected no error for a missing log, got %v", err)
	}
}

func TestPrecheckKeyRotation_MatchingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	content := `{"record_type":"Event","event_id":1}
{"record_type":"Checkpoint","key_id":"key-a"}
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if err := precheckKeyRotation(path, "key-a"); err != nil {
		t.Fatalf("expected no error for a matching key, got %v", err)
	}
}

func TestPrecheckKeyRotation_RotatedKeyRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	content := `{"record_type":"Event","event_id":1}
{"record_type":"Checkpoint","key_id":"key-old"}
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	err := precheckKeyRotation(path, "key-new")
	if err == nil {
		t.Fatal("expected an error for a rotated signing key")
	}
	if !strings.Contains(err.Error(), "key-old") || !strings.Contains(err.Error(), "key-new") {
		t.Errorf("error = %v, want it to name both key ids", err)
	}
}
