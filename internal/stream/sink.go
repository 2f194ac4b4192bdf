package stream

import (
	"context"

	"nightscout-easyview/internal/model"
)

type Sink interface {
	Upload(ctx context.Context, entries []model.Entry) (model.UploadResult, error)
	Name() string
	Close(ctx context.Context) error
}
