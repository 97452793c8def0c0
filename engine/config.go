package engine

import (
	"fmt"

	"go.uber.org/multierr"
)

// DisabledThreshold turns a broadcast threshold off.
const DisabledThreshold int64 = -1

// Config carries the execution settings for one engine instance.
type Config struct {
	// AdaptiveExecutionEnabled selects staged execution with runtime join
	// rewriting; when false, plans run in one pass with inline shuffles.
	AdaptiveExecutionEnabled bool

	// ShufflePartitions is the partition count for inserted shuffles.
	ShufflePartitions int

	// AutoBroadcastJoinThreshold is the size bound, in bytes, for
	// broadcasting a join side based on pre-execution estimates.
	AutoBroadcastJoinThreshold int64

	// AdaptiveBroadcastJoinThreshold is the size bound, in bytes, for
	// broadcasting a join side based on measured stage output.
	AdaptiveBroadcastJoinThreshold int64
}

// DefaultConfig mirrors the defaults of the engine's configuration surface:
// adaptive execution on, static broadcast off, a 10 MiB adaptive threshold.
func DefaultConfig() Config {
	return Config{
		AdaptiveExecutionEnabled:       true,
		ShufflePartitions:              4,
		AutoBroadcastJoinThreshold:     DisabledThreshold,
		AdaptiveBroadcastJoinThreshold: 10 * 1024 * 1024,
	}
}

// ThresholdConfigError reports a config option with an out-of-range value.
type ThresholdConfigError struct {
	Option string
	Value  int64
}

func (e *ThresholdConfigError) Error() string {
	return fmt.Sprintf("config: %s must be %d (disabled) or a non-negative byte count, got %d",
		e.Option, DisabledThreshold, e.Value)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var err error
	if c.ShufflePartitions < 1 {
		err = multierr.Append(err, fmt.Errorf("config: ShufflePartitions must be at least 1, got %d",
			c.ShufflePartitions))
	}
	if c.AutoBroadcastJoinThreshold < DisabledThreshold {
		err = multierr.Append(err, &ThresholdConfigError{
			Option: "AutoBroadcastJoinThreshold",
			Value:  c.AutoBroadcastJoinThreshold,
		})
	}
	if c.AdaptiveBroadcastJoinThreshold < DisabledThreshold {
		err = multierr.Append(err, &ThresholdConfigError{
			Option: "AdaptiveBroadcastJoinThreshold",
			Value:  c.AdaptiveBroadcastJoinThreshold,
		})
	}
	return err
}
