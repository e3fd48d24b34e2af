package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	verifier "github.com/opi-lc/opi-verifier"
	"github.com/opi-lc/opi-verifier/exitcodes"
	"github.com/opi-lc/opi-verifier/runner"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitcodes.Success},
		{"failed checks", verifier.NewVerificationFailedError(13, 1), exitcodes.Failure},
		{"setup error", verifier.NewSetupError(errors.New("bad config")), exitcodes.Failure},
		{"interrupted", fmt.Errorf("run did not complete: %w", runner.ErrInterrupted), exitcodes.Failure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
