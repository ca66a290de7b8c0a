package pipeline

import (
	"testing"
	"time"
)

func TestStageStatePhase(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cases := []struct {
		name  string
		state StageState
		want  StagePhase
	}{
		{"zero value", StageState{}, PhasePending},
		{"started", StageState{StartedAt: &now}, PhaseStarted},
		{"completed", StageState{StartedAt: &now, CompletedAt: &now, Completed: true}, PhaseCompleted},
		{"failed", StageState{StartedAt: &now, Error: "boom"}, PhaseFailed},
		{"error without start", StageState{Error: "boom"}, PhasePending},
	}
	for _, tc := range cases {
		if got := tc.state.Phase(); got != tc.want {
			t.Errorf("%s: Phase() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestStageStateInterrupted(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cases := []struct {
		name  string
		state StageState
		want  bool
	}{
		{"never started", StageState{}, false},
		{"in flight", StageState{StartedAt: &now}, true},
		{"completed", StageState{StartedAt: &now, CompletedAt: &now, Completed: true}, false},
		{"failed", StageState{StartedAt: &now, Error: "boom"}, false},
	}
	for _, tc := range cases {
		if got := tc.state.Interrupted(); got != tc.want {
			t.Errorf("%s: Interrupted() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDownloadReady(t *testing.T) {
	t.Parallel()

	ok := DocumentRecord{Downloaded: true, Outcome: DownloadSuccess}
	if !ok.DownloadReady() {
		t.Fatal("successful download should be ready")
	}
	failed := DocumentRecord{Downloaded: false, Outcome: DownloadError}
	if failed.DownloadReady() {
		t.Fatal("failed download should not be ready")
	}
}
