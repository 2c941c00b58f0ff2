package processgroup

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"distcomm/pgapi"
)

// Options configures a ProcessGroup. Rank, Size, and LocalDeviceCount are
// required. New applies no defaults of its own; DefaultOptions fills in
// OpTimeout and reads BlockingWait and ErrorChecking from the environment
// the way the original reads NCCL_BLOCKING_WAIT and
// ENABLE_NCCL_ERROR_CHECKING.
type Options struct {
	Rank             int
	Size             int
	LocalDeviceCount int
	OpTimeout        time.Duration

	// BlockingWait enables the synchronize/wait busy loop and abort-on-
	// timeout. DefaultOptions sets it from NCCL_BLOCKING_WAIT; a caller
	// building Options directly gets false unless it sets it.
	BlockingWait bool
	// ErrorChecking gates whether New starts the watchdog goroutine.
	// DefaultOptions sets it from ENABLE_NCCL_ERROR_CHECKING; a caller
	// building Options directly gets false unless it sets it.
	ErrorChecking bool

	Logger *logrus.Logger
}

const defaultOpTimeout = 30 * time.Second

// DefaultOptions builds an Options with BlockingWait and ErrorChecking
// populated from the environment, matching the original's fatal-on-garbage-
// value behavior for NCCL_BLOCKING_WAIT.
func DefaultOptions(rank, size, localDeviceCount int) (Options, error) {
	blocking, err := blockingWaitFromEnv()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Rank:             rank,
		Size:             size,
		LocalDeviceCount: localDeviceCount,
		OpTimeout:        defaultOpTimeout,
		BlockingWait:     blocking,
		ErrorChecking:    errorCheckingFromEnv(),
	}, nil
}

// blockingWaitFromEnv reads NCCL_BLOCKING_WAIT: "1" enables blocking wait,
// "0" or unset disables it, any other value is a fatal configuration error.
func blockingWaitFromEnv() (bool, error) {
	switch v := os.Getenv("NCCL_BLOCKING_WAIT"); v {
	case "", "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, pgapi.Newf(pgapi.InvalidArgument, "NCCL_BLOCKING_WAIT must be \"0\" or \"1\", got %q", v)
	}
}

// errorCheckingFromEnv reads ENABLE_NCCL_ERROR_CHECKING: any value other
// than "0" enables the watchdog, matching the original's default-on
// behavior for this build-time toggle.
func errorCheckingFromEnv() bool {
	return os.Getenv("ENABLE_NCCL_ERROR_CHECKING") != "0"
}
