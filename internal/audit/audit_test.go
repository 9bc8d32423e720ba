package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordAndVerifyChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	entries := []Entry{
		{SessionID: "s-1", Command: "ls -la", Decision: "allow", Reason: "no rule matched"},
		{SessionID: "s-1", Command: "rm -rf /", Decision: "block", RuleID: "fs.rm-root", Category: "filesystem", Reason: "recursive delete"},
		{SessionID: "s-1", Command: "ssh x@y", Decision: "log", RuleID: "net.ssh", Category: "network", Reason: "outbound ssh"},
	}
	for _, e := range entries {
		if err := log.Record(e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("chain invalid: %+v", result)
	}
	if result.Lines != len(entries) {
		t.Errorf("expected %d lines, got %d", len(entries), result.Lines)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := log.Record(Entry{SessionID: "s-1", Command: "ls", Decision: "allow", Reason: "ok"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	log.Close()

	log, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := log.Record(Entry{SessionID: "s-2", Command: "cat f", Decision: "allow", Reason: "ok"}); err != nil {
		t.Fatalf("record after reopen: %v", err)
	}
	log.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 2 {
		t.Fatalf("expected intact 2-line chain, got %+v", result)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	log.Record(Entry{SessionID: "s-1", Command: "ls", Decision: "allow", Reason: "ok"})
	log.Record(Entry{SessionID: "s-1", Command: "cat f", Decision: "allow", Reason: "ok"})
	log.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	tampered := strings.Replace(string(data), `"command":"ls"`, `"command":"rm"`, 1)
	if tampered == string(data) {
		t.Fatal("tamper substitution did not apply")
	}
	if err := os.WriteFile(path, []byte(tampered), 0o600); err != nil {
		t.Fatalf("write tampered: %v", err)
	}

	result := Verify(path)
	if result.Valid {
		t.Error("tampered log verified as valid")
	}
	if result.ErrorLine != 2 {
		t.Errorf("expected break detected at line 2, got %d", result.ErrorLine)
	}
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if a == b {
		t.Error("session IDs collide")
	}
	if !strings.HasPrefix(a, "s-") {
		t.Errorf("unexpected format: %s", a)
	}
}
