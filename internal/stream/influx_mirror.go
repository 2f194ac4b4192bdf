package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"nightscout-easyview/internal/model"
)

// InfluxMirror copies uploaded entries into an InfluxDB bucket for dashboards.
type InfluxMirror struct {
	logger      *slog.Logger
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
	bucket      string
}

func NewInfluxMirror(url, token, org, bucket, measurement string, timeout time.Duration, logger *slog.Logger) *InfluxMirror {
	if measurement == "" {
		measurement = "glucose"
	}
	opts := influxdb2.DefaultOptions()
	if secs := uint(timeout / time.Second); secs > 0 {
		opts.SetHTTPRequestTimeout(secs)
	}
	client := influxdb2.NewClientWithOptions(url, token, opts)
	return &InfluxMirror{
		logger:      logger,
		client:      client,
		writer:      client.WriteAPIBlocking(org, bucket),
		measurement: measurement,
		bucket:      bucket,
	}
}

func (m *InfluxMirror) Name() string {
	return "influxdb"
}

func (m *InfluxMirror) Upload(ctx context.Context, entries []model.Entry) (model.UploadResult, error) {
	if len(entries) == 0 {
		return model.UploadResult{}, nil
	}
	points := make([]*write.Point, 0, len(entries))
	for _, e := range entries {
		points = append(points, m.point(e))
	}
	if err := m.writer.WritePoint(ctx, points...); err != nil {
		return model.UploadResult{}, fmt.Errorf("influx write to %s: %w: %v", m.bucket, model.ErrNetwork, err)
	}
	return model.UploadResult{Accepted: len(points)}, nil
}

func (m *InfluxMirror) point(e model.Entry) *write.Point {
	return influxdb2.NewPoint(
		m.measurement,
		map[string]string{"device": e.Device, "direction": e.Direction},
		map[string]interface{}{"sgv": e.SGV},
		time.UnixMilli(e.Date).UTC(),
	)
}

func (m *InfluxMirror) Close(context.Context) error {
	m.client.Close()
	return nil
}
