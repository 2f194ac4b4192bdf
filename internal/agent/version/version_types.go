package version

type GetVersionResponse struct {
	Service        string `json:"service"`
	Version        string `json:"version"`
	GoVersion      string `json:"go_version"`
	ConfigSource   string `json:"config_source,omitempty"`
	NightscoutHost string `json:"nightscout_host"`
	PollInterval   string `json:"poll_interval"`
	Backfill       bool   `json:"backfill"`
	InfluxMirror   bool   `json:"influx_mirror"`
	StatusAddr     string `json:"status_addr,omitempty"`
	ProbeAddr      string `json:"probe_addr,omitempty"`
	CheckedAtUnix  int64  `json:"checked_at_unix"`
}
