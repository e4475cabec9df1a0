package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	defer func() { Version, GitCommit = origVersion, origCommit }()
	Version, GitCommit = "0.1.0-test", "abc123"
	defer func() { versionOutput = "text" }()

	tests := []struct {
		output string
		want   []string
	}{
		{"text", []string{"Version:", "0.1.0-test", "Git commit:", "abc123", "OS/Arch:"}},
		{"json", []string{`"version": "0.1.0-test"`, `"git_commit": "abc123"`, `"go_version": "go`}},
	}
	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			versionOutput = tt.output
			buf := &bytes.Buffer{}
			versionCmd.SetOut(buf)
			defer versionCmd.SetOut(nil)
			if err := versionCmd.RunE(versionCmd, nil); err != nil {
				t.Fatalf("version: %v", err)
			}
			out := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("version output missing %q:\n%s", want, out)
				}
			}
		})
	}

	versionOutput = "yaml"
	if err := versionCmd.RunE(versionCmd, nil); err == nil {
		t.Error("version accepted an unknown output format")
	}
}

func TestCommandTree(t *testing.T) {
	rootCmd.InitDefaultCompletionCmd()
	want := map[string]bool{"serve": false, "replay": false, "captures": false, "version": false, "completion": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}

	sub := map[string]bool{}
	for _, c := range capturesCmd.Commands() {
		sub[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "prune"} {
		if !sub[name] {
			t.Errorf("captures %s not registered", name)
		}
	}
}
