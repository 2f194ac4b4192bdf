package model

import "time"

type Unit string

const (
	UnitMmolL Unit = "mmol/L"
	UnitMgdL  Unit = "mg/dL"
)

// SensorStatus is the vendor's sensor state code.
type SensorStatus int

const (
	SensorStatusUnknown          SensorStatus = 0
	SensorStatusWarmingUp        SensorStatus = 2
	SensorStatusNormal           SensorStatus = 3
	SensorStatusNeedsCalibration SensorStatus = 10
)

func (s SensorStatus) String() string {
	switch s {
	case SensorStatusWarmingUp:
		return "warming_up"
	case SensorStatusNormal:
		return "normal"
	case SensorStatusNeedsCalibration:
		return "needs_calibration"
	default:
		return "unknown"
	}
}

// Reading is one glucose sample as reported by the CGM vendor.
type Reading struct {
	Timestamp time.Time    `json:"timestamp"`
	Glucose   float64      `json:"glucose"`
	Unit      Unit         `json:"unit"`
	Trend     int          `json:"trend"`
	Status    SensorStatus `json:"status"`
	SensorID  int64        `json:"sensor_id"`
	Sequence  int64        `json:"sequence"`
	Serial    int64        `json:"serial"`
	Device    string       `json:"device"`
	Owner     string       `json:"owner"`
}

// ReadingKey identifies a reading within the vendor's sensor sequence.
type ReadingKey struct {
	SensorID int64
	Sequence int64
}

func (r Reading) Key() ReadingKey {
	return ReadingKey{SensorID: r.SensorID, Sequence: r.Sequence}
}

// Follows reports whether r is the direct successor of prev on the same sensor.
func (r Reading) Follows(prev Reading) bool {
	return r.SensorID == prev.SensorID && r.Sequence == prev.Sequence+1
}

func (k ReadingKey) Less(o ReadingKey) bool {
	if k.SensorID != o.SensorID {
		return k.SensorID < o.SensorID
	}
	return k.Sequence < o.Sequence
}
