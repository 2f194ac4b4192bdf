package easyview

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"nightscout-easyview/internal/model"
)

const resultOK = "OK"

// v1 is the payload layout served by the 1.2.x follower app API. Unknown
// fields are ignored; every field read below is required unless noted.

type statusPayloadV1 struct {
	Res         *string     `json:"res"`
	MonitorList []monitorV1 `json:"monitorlist"`
}

type monitorV1 struct {
	Username     string          `json:"username"`
	SensorStatus *sensorStatusV1 `json:"sensor_status"`
}

type sensorStatusV1 struct {
	DeviceType  *string  `json:"deviceType"`
	Glucose     *float64 `json:"glucose"`
	GlucoseRate *float64 `json:"glucoseRate"`
	SensorID    *int64   `json:"sensorId"`
	Sequence    *int64   `json:"sequence"`
	Serial      *int64   `json:"serial"`
	Status      *int     `json:"status"`
	UpdateTime  *float64 `json:"updateTime"`
}

type downloadPayloadV1 struct {
	Data []json.RawMessage `json:"data"`
}

var downloadKeyPattern = regexp.MustCompile(`^(\d+)-(\d+)-(\d+)-(\d+)$`)

var downloadStatus = map[string]model.SensorStatus{
	"C":  model.SensorStatusNormal,
	"H":  model.SensorStatusWarmingUp,
	"XC": model.SensorStatusNeedsCalibration,
}

func decodeStatusV1(body []byte) ([]model.Reading, error) {
	var p statusPayloadV1
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrParse, err)
	}
	if p.Res != nil && *p.Res != resultOK && p.MonitorList == nil {
		return nil, fmt.Errorf("%w: res=%q", model.ErrSessionExpired, *p.Res)
	}
	if p.MonitorList == nil {
		return nil, fmt.Errorf("%w: monitorlist missing", model.ErrParse)
	}
	if len(p.MonitorList) != 1 {
		return nil, fmt.Errorf("%w: follower must follow exactly one user, got %d", model.ErrParse, len(p.MonitorList))
	}
	m := p.MonitorList[0]
	if m.SensorStatus == nil {
		return nil, fmt.Errorf("%w: sensor_status missing", model.ErrParse)
	}
	r, err := m.SensorStatus.reading(m.Username)
	if err != nil {
		return nil, err
	}
	return []model.Reading{r}, nil
}

func (s *sensorStatusV1) reading(owner string) (model.Reading, error) {
	var missing []string
	check := func(name string, present bool) {
		if !present {
			missing = append(missing, name)
		}
	}
	check("deviceType", s.DeviceType != nil)
	check("glucose", s.Glucose != nil)
	check("glucoseRate", s.GlucoseRate != nil)
	check("sensorId", s.SensorID != nil)
	check("sequence", s.Sequence != nil)
	check("serial", s.Serial != nil)
	check("status", s.Status != nil)
	check("updateTime", s.UpdateTime != nil)
	if len(missing) > 0 {
		return model.Reading{}, fmt.Errorf("%w: sensor_status missing %v", model.ErrParse, missing)
	}
	return model.Reading{
		Timestamp: unixSeconds(*s.UpdateTime),
		Glucose:   *s.Glucose,
		Unit:      model.UnitMmolL,
		Trend:     int(math.Round(*s.GlucoseRate)),
		Status:    model.SensorStatus(*s.Status),
		SensorID:  *s.SensorID,
		Sequence:  *s.Sequence,
		Serial:    *s.Serial,
		Device:    *s.DeviceType,
		Owner:     owner,
	}, nil
}

// decodeDownloadV1 decodes history rows of the form
// ["uid-serial-sensor-sequence", updateTime, _, glucose, status, rate].
func decodeDownloadV1(body []byte, owner, device string) ([]model.Reading, int, error) {
	var p downloadPayloadV1
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", model.ErrParse, err)
	}
	if p.Data == nil {
		return nil, 0, fmt.Errorf("%w: data missing", model.ErrParse)
	}
	out := make([]model.Reading, 0, len(p.Data))
	skipped := 0
	for _, raw := range p.Data {
		r, err := decodeDownloadRow(raw)
		if err != nil {
			skipped++
			continue
		}
		r.Owner = owner
		r.Device = device
		out = append(out, r)
	}
	return out, skipped, nil
}

var errBadRow = errors.New("malformed download row")

func decodeDownloadRow(raw json.RawMessage) (model.Reading, error) {
	var row []json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil || len(row) < 6 {
		return model.Reading{}, errBadRow
	}
	var (
		key        string
		updateTime float64
		glucose    float64
		status     string
		rate       float64
	)
	if json.Unmarshal(row[0], &key) != nil ||
		json.Unmarshal(row[1], &updateTime) != nil ||
		json.Unmarshal(row[3], &glucose) != nil ||
		json.Unmarshal(row[4], &status) != nil ||
		json.Unmarshal(row[5], &rate) != nil {
		return model.Reading{}, errBadRow
	}
	m := downloadKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return model.Reading{}, errBadRow
	}
	var ids [3]int64
	for i, part := range m[2:] {
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return model.Reading{}, errBadRow
		}
		ids[i] = v
	}
	serial, sensorID, sequence := ids[0], ids[1], ids[2]
	return model.Reading{
		Timestamp: unixSeconds(updateTime),
		Glucose:   glucose,
		Unit:      model.UnitMmolL,
		Trend:     int(math.Round(rate)),
		Status:    downloadStatus[status],
		SensorID:  sensorID,
		Sequence:  sequence,
		Serial:    serial,
	}, nil
}

func resultCode(body map[string]json.RawMessage) (string, bool) {
	raw, ok := body["res"]
	if !ok {
		return "", false
	}
	var res string
	if err := json.Unmarshal(raw, &res); err != nil {
		return string(raw), true
	}
	return res, true
}

func unixSeconds(v float64) time.Time {
	return time.Unix(int64(math.Round(v)), 0).UTC()
}
