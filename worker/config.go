package worker

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sfuctl/workerchannel/channel"
	"github.com/sfuctl/workerchannel/internal/defaults"
)

// OptionsFromEnv builds the Options a host process typically wants to
// derive from its own environment rather than hardcode: the worker binary's
// argv, its stop grace, and a shared max-frame-bytes override for both
// channels. Any variable left unset keeps the package default.
func OptionsFromEnv() ([]Option, error) {
	var opts []Option

	if argv := splitCSVEnv("WORKERCHANNEL_WORKER_ARGV"); argv != nil {
		opts = append(opts, WithArgv(argv...))
	}

	grace := defaults.StopGrace
	if raw := strings.TrimSpace(os.Getenv("WORKERCHANNEL_STOP_GRACE")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		grace = d
	}
	if grace != defaults.StopGrace {
		opts = append(opts, WithStopGrace(grace))
	}

	maxBytes := defaults.MaxFrameBytes
	if raw := strings.TrimSpace(os.Getenv("WORKERCHANNEL_MAX_FRAME_BYTES")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
		maxBytes = n
	}
	if maxBytes != defaults.MaxFrameBytes {
		opts = append(opts,
			WithControlOptions(channel.WithMaxFrameBytes(maxBytes)),
			WithPayloadOptions(channel.WithMaxFrameBytes(maxBytes)),
		)
	}

	return opts, nil
}

// splitCSVEnv splits a comma-separated env value into trimmed, non-empty
// parts, or nil if the variable is unset or blank.
func splitCSVEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
