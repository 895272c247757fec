package verify

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/conductor/pkg/models"
)

type exitErr int

func (e exitErr) Error() string { return "exit status" }
func (e exitErr) ExitCode() int { return int(e) }

type scriptedRunner struct {
	results map[string]error
	calls   []string
}

func (s *scriptedRunner) RunShell(_ context.Context, _, command string) ([]byte, error) {
	s.calls = append(s.calls, command)
	return []byte("out: " + command), s.results[command]
}

func TestVerifyRunsEveryCommand(t *testing.T) {
	runner := &scriptedRunner{results: map[string]error{"go vet ./...": exitErr(2)}}
	v := New(t.TempDir(), WithRunner(runner))

	task := &models.Task{ID: "t1", VerificationCommands: []string{"go vet ./...", " ", "go test ./..."}}
	report, err := v.Verify(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, []string{"go vet ./...", "go test ./..."}, runner.calls)
	assert.False(t, report.Passed)
	assert.Equal(t, models.VerdictNotApproved, report.Verdict())
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, 2, report.Failed()[0].ExitCode)
	assert.Empty(t, report.Failed()[0].Error)
	assert.True(t, report.Results[1].Passed)
}

func TestVerifyWithoutCommandsPasses(t *testing.T) {
	report, err := New("", WithRunner(&scriptedRunner{})).Verify(context.Background(), &models.Task{ID: "t1"})
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, models.VerdictApproved, report.Verdict())
}

func TestVerifyRecordsStartFailure(t *testing.T) {
	runner := &scriptedRunner{results: map[string]error{"missing": errors.New("exec: not found")}}
	report, err := New("", WithRunner(runner)).Verify(context.Background(), &models.Task{ID: "t1", VerificationCommands: []string{"missing"}})
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, -1, report.Results[0].ExitCode)
	assert.Equal(t, "exec: not found", report.Results[0].Error)
}

func TestVerifyStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New("", WithRunner(&scriptedRunner{})).Verify(ctx, &models.Task{ID: "t1", VerificationCommands: []string{"true"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShellRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	v := New(t.TempDir(), WithTimeout(5*time.Second))
	report, err := v.Verify(context.Background(), &models.Task{ID: "t1", VerificationCommands: []string{"echo ok", "exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, "ok\n", report.Results[0].Output)
	assert.True(t, report.Results[0].Passed)
	assert.Equal(t, 3, report.Results[1].ExitCode)
	assert.False(t, report.Passed)
}
