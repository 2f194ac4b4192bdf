package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"time"

	"nightscout-easyview/internal/config"
	"nightscout-easyview/internal/model"
)

// Relay uploads to Nightscout and then copies accepted batches to the
// configured mirrors. Only the Nightscout outcome is reported to callers.
type Relay struct {
	logger  *slog.Logger
	primary *NightscoutClient
	mirrors []Sink
}

func NewRelay(primary *NightscoutClient, logger *slog.Logger, mirrors ...Sink) *Relay {
	return &Relay{logger: logger, primary: primary, mirrors: mirrors}
}

func NewRelayFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) *Relay {
	primary := NewNightscoutClient(cfg.Nightscout.URL, cfg.Nightscout.Secret, tlsCfg, cfg.HTTP.Timeout, logger)
	var mirrors []Sink
	if cfg.Influx.Enabled() {
		mirrors = append(mirrors, NewInfluxMirror(
			cfg.Influx.URL,
			cfg.Influx.Token,
			cfg.Influx.Org,
			cfg.Influx.Bucket,
			cfg.Influx.Measurement,
			cfg.HTTP.Timeout,
			logger,
		))
	}
	return NewRelay(primary, logger, mirrors...)
}

func (r *Relay) Name() string {
	return r.primary.Name()
}

func (r *Relay) Upload(ctx context.Context, entries []model.Entry) (model.UploadResult, error) {
	res, err := r.primary.Upload(ctx, entries)
	if err != nil || res.Accepted == 0 {
		return res, err
	}
	for _, m := range r.mirrors {
		if _, mErr := m.Upload(ctx, entries); mErr != nil {
			r.logger.Warn("mirror upload failed", "sink", m.Name(), "count", len(entries), "error", mErr)
		}
	}
	return res, nil
}

func (r *Relay) LastEntryTime(ctx context.Context) (time.Time, bool, error) {
	return r.primary.LastEntryTime(ctx)
}

func (r *Relay) Close(ctx context.Context) error {
	errs := []error{r.primary.Close(ctx)}
	for _, m := range r.mirrors {
		errs = append(errs, m.Close(ctx))
	}
	return errors.Join(errs...)
}
