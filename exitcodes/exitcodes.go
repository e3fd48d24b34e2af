// Package exitcodes defines the exit codes used by opi-verifier.
package exitcodes

// Exit code constants used by opi-verifier.
//
// * Success (0): every check passed
// * Failure (1): any failed check, setup error or interrupt
const (
	Success = 0
	Failure = 1
)
