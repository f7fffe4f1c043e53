package node

import (
	"errors"
	"time"

	"github.com/arloliu/tagsync/channel"
	"github.com/arloliu/tagsync/logger"
)

// Config holds the node configuration shared by both roles. It is built
// once by NewConfig and treated as immutable afterwards.
type Config struct {
	// role selects which end of the protocol this node plays.
	role channel.Role

	// deviceAddr is the TCP address of the local time-tagging device.
	deviceAddr string

	// peerHost is the host of the peer node. The port block below is
	// shared by both ends.
	peerHost string

	// ports is the five-channel port block.
	ports channel.Ports

	// duration is the total acquisition window.
	// Defaults to 10 seconds.
	duration time.Duration

	// channels is the device channel mask to acquire on.
	// Defaults to channels 1 and 2.
	channels []uint16

	// streamingMode splits the acquisition into sub-acquisitions of
	// subDuration each, at most maxFiles of them.
	streamingMode bool
	subDuration   time.Duration
	maxFiles      int

	// syncFraction is the leading fraction of each stream used for offset
	// correlation. Defaults to 0.1.
	syncFraction float64

	// matchTolerance is the correlation nearest-neighbor window.
	matchTolerance time.Duration

	// outputDir is where acquisition files and reports are written.
	// Defaults to the current directory.
	outputDir string

	// textOutput additionally writes a human-readable text mirror next to
	// every binary timestamp file.
	textOutput bool

	// heartbeatInterval is the slave's heartbeat period. The master
	// declares the peer unresponsive after heartbeatMissLimit missed
	// periods. Defaults to 1 second and 3 periods.
	heartbeatInterval  time.Duration
	heartbeatMissLimit int

	// triggerLookahead is how far in the future the master schedules the
	// shared trigger timestamp. It must absorb the command round trip plus
	// device arming. Defaults to 200ms.
	triggerLookahead time.Duration

	// lateMargin is the minimum future margin a received trigger must
	// carry to still be actionable. Defaults to 1ms.
	lateMargin time.Duration

	// replyTimeout bounds every command round trip. Defaults to 3 seconds.
	replyTimeout time.Duration

	// transferTimeout bounds the wait for the peer's acquisition files
	// after the window closed. Defaults to 15 seconds.
	transferTimeout time.Duration

	// partSize is the file transfer chunk size. Defaults to 256 KiB.
	partSize int

	// deviceTimeout bounds one device command round trip.
	// Defaults to 2 seconds.
	deviceTimeout time.Duration

	// logger receives the node's structured events.
	logger logger.Logger
}

// NewConfig creates a node configuration for the given role, local device
// address and peer host, then applies the options in order.
func NewConfig(role channel.Role, deviceAddr, peerHost string, opts ...Option) (*Config, error) {
	cfg := &Config{
		role:               role,
		deviceAddr:         deviceAddr,
		peerHost:           peerHost,
		ports:              channel.DefaultPorts(),
		duration:           10 * time.Second,
		channels:           []uint16{1, 2},
		syncFraction:       0.1,
		matchTolerance:     time.Millisecond,
		outputDir:          ".",
		heartbeatInterval:  time.Second,
		heartbeatMissLimit: 3,
		triggerLookahead:   200 * time.Millisecond,
		lateMargin:         time.Millisecond,
		replyTimeout:       3 * time.Second,
		transferTimeout:    15 * time.Second,
		partSize:           256 << 10,
		deviceTimeout:      2 * time.Second,
		logger:             logger.GetLogger(),
	}

	if deviceAddr == "" {
		return nil, errors.New("device address is empty")
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.streamingMode && cfg.subDuration > cfg.duration {
		return nil, errors.New("sub-acquisition duration exceeds total duration")
	}

	return cfg, nil
}

// Role returns the configured protocol role.
func (cfg *Config) Role() channel.Role { return cfg.role }

// Duration returns the total acquisition window.
func (cfg *Config) Duration() time.Duration { return cfg.duration }

// Channels returns a copy of the configured device channel mask.
func (cfg *Config) Channels() []uint16 { return append([]uint16(nil), cfg.channels...) }

// OutputDir returns the output directory.
func (cfg *Config) OutputDir() string { return cfg.outputDir }

// resolver builds the channel address resolver for this node.
func (cfg *Config) resolver() *channel.Resolver {
	return channel.NewResolver(cfg.role, cfg.peerHost, cfg.ports)
}

// chunkPlan returns the per-chunk duration and chunk count for an
// acquisition of the given total window. A non-streaming run is a single
// chunk of the full window. Master and slave must run the same streaming
// configuration so they derive the same plan from the same trigger.
func (cfg *Config) chunkPlan(total time.Duration) (time.Duration, int) {
	if !cfg.streamingMode || cfg.subDuration <= 0 {
		return total, 1
	}

	n := int((total + cfg.subDuration - 1) / cfg.subDuration)
	if n < 1 {
		n = 1
	}
	if cfg.maxFiles > 0 && n > cfg.maxFiles {
		n = cfg.maxFiles
	}

	return cfg.subDuration, n
}

// heartbeatTimeout is the silence span after which the peer counts as
// unresponsive.
func (cfg *Config) heartbeatTimeout() time.Duration {
	return time.Duration(cfg.heartbeatMissLimit) * cfg.heartbeatInterval
}

// Option represents a functional option for configuring a node Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithPorts overrides the default five-channel port block.
func WithPorts(ports channel.Ports) Option {
	return newOptFunc("WithPorts", func(cfg *Config) error {
		cfg.ports = ports
		return nil
	})
}

// WithDuration sets the total acquisition window. It must be positive.
func WithDuration(d time.Duration) Option {
	return newOptFunc("WithDuration", func(cfg *Config) error {
		if d <= 0 {
			return errors.New("acquisition duration must be positive")
		}
		cfg.duration = d

		return nil
	})
}

// WithChannels sets the device channel mask. It must be non-empty.
func WithChannels(channels []uint16) Option {
	return newOptFunc("WithChannels", func(cfg *Config) error {
		if len(channels) == 0 {
			return errors.New("channel mask is empty")
		}
		cfg.channels = append([]uint16(nil), channels...)

		return nil
	})
}

// WithStreaming enables streaming mode: the acquisition is split into
// sub-acquisitions of subDuration each, capped at maxFiles chunks. A
// maxFiles of 0 means no cap.
func WithStreaming(subDuration time.Duration, maxFiles int) Option {
	return newOptFunc("WithStreaming", func(cfg *Config) error {
		if subDuration <= 0 {
			return errors.New("sub-acquisition duration must be positive")
		}
		if maxFiles < 0 {
			return errors.New("max file count must not be negative")
		}
		cfg.streamingMode = true
		cfg.subDuration = subDuration
		cfg.maxFiles = maxFiles

		return nil
	})
}

// WithSyncFraction sets the leading stream fraction used for correlation,
// in (0, 1].
func WithSyncFraction(fraction float64) Option {
	return newOptFunc("WithSyncFraction", func(cfg *Config) error {
		if fraction <= 0 || fraction > 1 {
			return errors.New("sync fraction is out of range (0, 1]")
		}
		cfg.syncFraction = fraction

		return nil
	})
}

// WithMatchTolerance sets the correlation nearest-neighbor window.
func WithMatchTolerance(tolerance time.Duration) Option {
	return newOptFunc("WithMatchTolerance", func(cfg *Config) error {
		if tolerance <= 0 {
			return errors.New("match tolerance must be positive")
		}
		cfg.matchTolerance = tolerance

		return nil
	})
}

// WithOutputDir sets the directory acquisition files and reports are
// written to.
func WithOutputDir(dir string) Option {
	return newOptFunc("WithOutputDir", func(cfg *Config) error {
		if dir == "" {
			return errors.New("output directory is empty")
		}
		cfg.outputDir = dir

		return nil
	})
}

// WithTextOutput additionally writes a text mirror next to every binary
// timestamp file.
func WithTextOutput() Option {
	return newOptFunc("WithTextOutput", func(cfg *Config) error {
		cfg.textOutput = true
		return nil
	})
}

// WithHeartbeatInterval sets the heartbeat period. The peer counts as
// unresponsive after missLimit silent periods.
func WithHeartbeatInterval(interval time.Duration, missLimit int) Option {
	return newOptFunc("WithHeartbeatInterval", func(cfg *Config) error {
		if interval <= 0 {
			return errors.New("heartbeat interval must be positive")
		}
		if missLimit < 1 {
			return errors.New("heartbeat miss limit must be at least 1")
		}
		cfg.heartbeatInterval = interval
		cfg.heartbeatMissLimit = missLimit

		return nil
	})
}

// WithTriggerLookahead sets how far in the future the master schedules the
// shared trigger timestamp.
func WithTriggerLookahead(d time.Duration) Option {
	return newOptFunc("WithTriggerLookahead", func(cfg *Config) error {
		if d <= 0 {
			return errors.New("trigger lookahead must be positive")
		}
		cfg.triggerLookahead = d

		return nil
	})
}

// WithLateMargin sets the minimum future margin an incoming trigger must
// carry to still be actionable.
func WithLateMargin(d time.Duration) Option {
	return newOptFunc("WithLateMargin", func(cfg *Config) error {
		if d < 0 {
			return errors.New("late margin must not be negative")
		}
		cfg.lateMargin = d

		return nil
	})
}

// WithReplyTimeout bounds every command round trip.
func WithReplyTimeout(d time.Duration) Option {
	return newOptFunc("WithReplyTimeout", func(cfg *Config) error {
		if d <= 0 {
			return errors.New("reply timeout must be positive")
		}
		cfg.replyTimeout = d

		return nil
	})
}

// WithTransferTimeout bounds the wait for the peer's acquisition files.
func WithTransferTimeout(d time.Duration) Option {
	return newOptFunc("WithTransferTimeout", func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transfer timeout must be positive")
		}
		cfg.transferTimeout = d

		return nil
	})
}

// WithPartSize sets the file transfer chunk size in bytes.
func WithPartSize(size int) Option {
	return newOptFunc("WithPartSize", func(cfg *Config) error {
		if size <= 0 {
			return errors.New("part size must be positive")
		}
		cfg.partSize = size

		return nil
	})
}

// WithDeviceTimeout bounds one device command round trip.
func WithDeviceTimeout(d time.Duration) Option {
	return newOptFunc("WithDeviceTimeout", func(cfg *Config) error {
		if d <= 0 {
			return errors.New("device timeout must be positive")
		}
		cfg.deviceTimeout = d

		return nil
	})
}

// WithLogger sets the logger for node events.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
