package model

// EntryTypeSGV tags a sensor glucose value in the Nightscout entries collection.
const EntryTypeSGV = "sgv"

// Entry is a Nightscout entries record.
type Entry struct {
	Type       string `json:"type"`
	Date       int64  `json:"date"`
	DateString string `json:"dateString"`
	SGV        int    `json:"sgv"`
	Direction  string `json:"direction"`
	Device     string `json:"device"`
}

type UploadResult struct {
	Accepted   int
	StatusCode int
}
