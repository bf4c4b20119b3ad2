package config

import (
	"log/slog"

	"github.com/jpalmerr/heartbridge"
	"github.com/jpalmerr/heartbridge/internal/publisher"
)

// BuildOptions converts parsed configuration into SDK options.
//
// The logger is passed through unchanged; a nil logger leaves the SDK
// default in place. Options are validated when handed to [heartbridge.New].
func BuildOptions(cfg *Config, logger *slog.Logger) []heartbridge.Option {
	opts := []heartbridge.Option{
		heartbridge.WithPort(cfg.HTTPPort()),
		heartbridge.WithFormatting(BuildFormatting(cfg.Formatting)),
		heartbridge.WithChatboxCooldown(cfg.Cooldown()),
		heartbridge.WithRestartDelay(cfg.Restart()),
	}

	if cfg.SessionID != "" {
		opts = append(opts, heartbridge.WithSessionID(cfg.SessionID))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, heartbridge.WithBaseURL(cfg.BaseURL))
	}
	if cfg.OSC.Host != "" || cfg.OSC.Port != 0 {
		host, port := cfg.OSC.Host, cfg.OSC.Port
		if host == "" {
			host = publisher.DefaultHost
		}
		if port == 0 {
			port = publisher.DefaultPort
		}
		opts = append(opts, heartbridge.WithOSCTarget(host, port))
	}
	if cfg.LivenessInterval != 0 {
		opts = append(opts, heartbridge.WithLivenessInterval(cfg.LivenessInterval.Duration()))
	}
	if cfg.WatchdogInterval != 0 {
		opts = append(opts, heartbridge.WithWatchdogInterval(cfg.WatchdogInterval.Duration()))
	}
	if cfg.ReadTimeout != 0 {
		opts = append(opts, heartbridge.WithReadTimeout(cfg.ReadTimeout.Duration()))
	}
	if logger != nil {
		opts = append(opts, heartbridge.WithLogger(logger))
	}

	return opts
}

// BuildFormatting converts a FormattingConfig into SDK formatting options.
// Omitted fields take their [heartbridge.DefaultFormatting] values.
func BuildFormatting(fc FormattingConfig) heartbridge.FormattingOptions {
	f := heartbridge.DefaultFormatting()
	f.ShowTrendArrow = fc.ShowTrendArrow
	if fc.TextTemplate != "" {
		f.TextTemplate = fc.TextTemplate
	}
	if fc.Use24HourClock != nil {
		f.Use24HourClock = *fc.Use24HourClock
	}
	if fc.ChannelOutput != nil {
		f.ChannelOutputEnabled = *fc.ChannelOutput
	}
	return f
}
