package types

import "errors"

// Sentinel errors for the HA core, matching this codebase's convention of
// small exported error variables rather than an error-codes package.
var (
	// ErrUnknownReplicationLevel is returned by ParseReplicationLevel for any
	// spelling of qpid.replicate other than none/configuration/all.
	ErrUnknownReplicationLevel = errors.New("ha: unknown replication level")

	// ErrLimitExceeded is returned from queueCreate when a backup's
	// catch-up queue budget is exhausted.
	ErrLimitExceeded = errors.New("ha: per-backup queue-limit exceeded")

	// ErrInvalidQueueSettings is returned by the settings validator for
	// contradictory queue argument combinations.
	ErrInvalidQueueSettings = errors.New("ha: invalid queue settings")

	// ErrGuardCancelled is returned by Guard.Tag once the guard has been
	// cancelled; Attach and Complete do not check for cancellation.
	ErrGuardCancelled = errors.New("ha: guard cancelled")
)

// ConfigError wraps ErrUnknownReplicationLevel / ErrInvalidQueueSettings with
// the offending argument key so callers can report which setting was bad.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return e.Err.Error()
	}
	return e.Key + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError for the given argument key.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{Key: key, Err: err}
}
