package errs

import (
	"errors"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatchingThroughWrapping(t *testing.T) {
	base := NotFound("task", "t-1")
	wrapped := fmt.Errorf("load task: %w", base)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrValidation))
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestSpawnNamesCommand(t *testing.T) {
	err := Spawn("no-such-agent", exec.ErrNotFound)

	assert.Contains(t, err.Error(), "no-such-agent")
	assert.True(t, errors.Is(err, ErrSpawn))
	assert.True(t, errors.Is(err, exec.ErrNotFound), "cause must stay reachable")
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"not found", NotFound("session", "abc"), "session not found abc"},
		{"validation", Validation("parse workflow", "step %d has no name", 2), "parse workflow: step 2 has no name"},
		{"storage", Storage("save task", errors.New("disk full")), "save task: disk full"},
		{"bare kind", &Error{Kind: KindProtocol}, "protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOfPlainError(t *testing.T) {
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))
	require.False(t, Is(nil, KindStorage))
}
