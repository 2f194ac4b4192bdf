package collector

import (
	"context"
	"time"

	"nightscout-easyview/internal/model"
)

// Vendor is the EasyView side of a poll cycle.
type Vendor interface {
	Login(ctx context.Context) (model.Session, error)
	FetchLatest(ctx context.Context, s model.Session) ([]model.Reading, error)
	FetchHistory(ctx context.Context, s model.Session, owner, device string, from, to time.Time) ([]model.Reading, error)
}

// Uploader is the Nightscout side of a poll cycle.
type Uploader interface {
	Upload(ctx context.Context, entries []model.Entry) (model.UploadResult, error)
	LastEntryTime(ctx context.Context) (time.Time, bool, error)
}

type Recorder interface {
	SetState(s model.State)
	ObserveCycle(outcome string)
	ObserveError(err error)
	ObserveLogin()
	ObserveSkipped(reason string, n int)
	ObserveUpload(accepted int, took time.Duration)
	MarkReading(ts time.Time)
}

type nopRecorder struct{}

func (nopRecorder) SetState(model.State) {}
func (nopRecorder) ObserveCycle(string) {}
func (nopRecorder) ObserveError(error) {}
func (nopRecorder) ObserveLogin() {}
func (nopRecorder) ObserveSkipped(string, int) {}
func (nopRecorder) ObserveUpload(int, time.Duration) {}
func (nopRecorder) MarkReading(time.Time) {}
