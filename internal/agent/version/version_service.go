package version

import (
	"net/url"
	"runtime"
	"time"

	"nightscout-easyview/internal/config"
)

const ServiceName = "nightscout-easyview"

// Get describes the running relay. Secrets and full URLs are left out.
func Get(cfg config.Config) *GetVersionResponse {
	host := cfg.Nightscout.URL
	if u, err := url.Parse(cfg.Nightscout.URL); err == nil && u.Host != "" {
		host = u.Host
	}
	return &GetVersionResponse{
		Service:        ServiceName,
		Version:        cfg.AgentVersion,
		GoVersion:      runtime.Version(),
		ConfigSource:   cfg.Source,
		NightscoutHost: host,
		PollInterval:   cfg.Poll.Interval.String(),
		Backfill:       cfg.Backfill.Enabled,
		InfluxMirror:   cfg.Influx.Enabled(),
		StatusAddr:     cfg.Status.Addr,
		ProbeAddr:      cfg.Probe.Addr,
		CheckedAtUnix:  time.Now().UTC().Unix(),
	}
}
