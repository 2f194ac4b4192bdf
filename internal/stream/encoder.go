package stream

import (
	"errors"
	"fmt"
	"math"
	"time"

	"nightscout-easyview/internal/model"
)

const mmolToMgdl = 18.0

// trendDirections maps the vendor's glucoseRate code to a Nightscout
// direction. Codes 0 and 8 both render as flat in the vendor app.
var trendDirections = map[int]string{
	0: "Flat",
	1: "FortyFiveUp",
	2: "SingleUp",
	3: "DoubleUp",
	4: "FortyFiveDown",
	5: "SingleDown",
	6: "DoubleDown",
	8: "Flat",
}

// ToEntries converts readings one-to-one. A reading whose trend or unit is
// unknown is left out and reported in the returned error; the other entries
// are still returned.
func ToEntries(readings []model.Reading) ([]model.Entry, error) {
	entries := make([]model.Entry, 0, len(readings))
	var errs []error
	for _, r := range readings {
		e, err := ToEntry(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, errors.Join(errs...)
}

func ToEntry(r model.Reading) (model.Entry, error) {
	direction, ok := trendDirections[r.Trend]
	if !ok {
		return model.Entry{}, fmt.Errorf("%w: sensor %d sequence %d: unknown trend %d", model.ErrMapping, r.SensorID, r.Sequence, r.Trend)
	}
	sgv, err := toMgdl(r.Glucose, r.Unit)
	if err != nil {
		return model.Entry{}, fmt.Errorf("%w: sensor %d sequence %d: %v", model.ErrMapping, r.SensorID, r.Sequence, err)
	}
	return model.Entry{
		Type:       model.EntryTypeSGV,
		Date:       r.Timestamp.UnixMilli(),
		DateString: r.Timestamp.UTC().Format(time.RFC3339),
		SGV:        sgv,
		Direction:  direction,
		Device:     r.Device,
	}, nil
}

// toMgdl rounds halves to even.
func toMgdl(v float64, unit model.Unit) (int, error) {
	switch unit {
	case model.UnitMmolL:
		return int(math.RoundToEven(v * mmolToMgdl)), nil
	case model.UnitMgdL:
		return int(math.RoundToEven(v)), nil
	default:
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
}
