package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/scrivener/internal/evaluate"
)

func TestRunEval(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ref := filepath.Join(dir, "groundtruth.txt")
	hyp := filepath.Join(dir, "clean.txt")
	writeTestFile(t, ref, "SET Index ปิด บวก\n")
	writeTestFile(t, hyp, "SET Index ปิด ลบ\n")

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantWER  float64 // negative: no output expected
	}{
		{name: "scores", args: []string{"-ref", ref, "-hyp", hyp}, wantCode: 0, wantWER: 25},
		{name: "under the gate", args: []string{"-ref", ref, "-hyp", hyp, "-max-wer", "30"}, wantCode: 0, wantWER: 25},
		{name: "above the gate", args: []string{"-ref", ref, "-hyp", hyp, "-max-wer", "10"}, wantCode: 1, wantWER: 25},
		{name: "missing reference flag", args: []string{"-hyp", hyp}, wantCode: 1, wantWER: -1},
		{name: "unreadable reference", args: []string{"-ref", filepath.Join(dir, "absent.txt"), "-hyp", hyp}, wantCode: 1, wantWER: -1},
		{name: "unknown flag", args: []string{"-ref", ref, "-wer"}, wantCode: 1, wantWER: -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			if code := runEval(tc.args, &out); code != tc.wantCode {
				t.Errorf("exit code = %d, want %d", code, tc.wantCode)
			}
			if tc.wantWER < 0 {
				if out.Len() != 0 {
					t.Errorf("unexpected output %q", out.String())
				}
				return
			}
			var s evaluate.Score
			if err := json.Unmarshal(out.Bytes(), &s); err != nil {
				t.Fatalf("output %q: %v", out.String(), err)
			}
			if s.WER.Percent != tc.wantWER || s.WER.Edits.Substitutions != 1 {
				t.Errorf("WER = %+v, want %v%% from one substitution", s.WER, tc.wantWER)
			}
		})
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}
