package flags

import (
	"flag"
	"testing"
	"time"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/opi-lc/opi-verifier/config"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

// TestUniqueFlags asserts that all flag names are unique, to avoid accidental conflicts between the many flags.
func TestUniqueFlags(t *testing.T) {
	seenCLI := make(map[string]struct{})
	for _, flag := range Flags {
		name := flag.Names()[0]
		if _, ok := seenCLI[name]; ok {
			t.Errorf("duplicate flag %s", name)
			continue
		}
		seenCLI[name] = struct{}{}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range Flags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")
			require.Equal(t, opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix), envFlags[0])
		})
	}
}

func newContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range Flags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(&cli.App{Flags: Flags}, set, nil)
}

func TestCheckRequired(t *testing.T) {
	t.Run("missing service dir", func(t *testing.T) {
		err := CheckRequired(newContext(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "service-dir")
	})

	t.Run("service dir set", func(t *testing.T) {
		require.NoError(t, CheckRequired(newContext(t, "--service-dir", "/srv/api")))
	})
}

func TestTimeouts(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t, config.DefaultTimeouts(), Timeouts(newContext(t)))
	})

	t.Run("overrides", func(t *testing.T) {
		ctx := newContext(t, "--startup-timeout", "5s", "--grace-period", "500ms")
		got := Timeouts(ctx)
		assert.Equal(t, 5*time.Second, got.Startup)
		assert.Equal(t, 500*time.Millisecond, got.Grace)
		assert.Equal(t, config.DefaultTimeouts().PollInterval, got.PollInterval)
	})
}
