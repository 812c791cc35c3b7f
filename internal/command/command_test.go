package command

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"exit error", &ExitError{Name: "rsync", Code: 23}, 23},
		{"wrapped", fmt.Errorf("replicate: %w", &ExitError{Name: "rsync", Code: 24}), 24},
		{"other", errors.New("boom"), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	got := redact([]string{"-p", "hunter2", "scp", "a", "b"})
	want := []string{"-p", "****", "scp", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("redact() = %v, want %v", got, want)
	}
}

func TestTail(t *testing.T) {
	tb := NewTail(tailSize)
	tb.Write([]byte(strings.Repeat("a", tailSize)))
	tb.Write([]byte("end"))
	s := tb.String()
	if len(s) != tailSize || !strings.HasSuffix(s, "end") {
		t.Errorf("expected last %d bytes ending in 'end', got len %d", tailSize, len(s))
	}
}

func TestFakeRecordsCalls(t *testing.T) {
	f := &Fake{Handler: func(c Call) (string, error) {
		if c.Name == "ffprobe" {
			return "subrip\n", nil
		}
		return "", &ExitError{Name: c.Name, Code: 1}
	}}

	out, err := f.Output(context.Background(), "ffprobe", "-v", "error")
	if err != nil || out != "subrip\n" {
		t.Fatalf("unexpected output %q, %v", out, err)
	}
	var sb strings.Builder
	if err := f.Run(context.Background(), "ffmpeg", []string{"-i", "x"}, &sb); ExitCode(err) != 1 {
		t.Errorf("expected exit 1, got %v", err)
	}

	calls := f.Calls()
	if len(calls) != 2 || calls[1].String() != "ffmpeg -i x" {
		t.Errorf("unexpected calls %v", calls)
	}
}
