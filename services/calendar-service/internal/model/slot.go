package model

import "time"

type TimeSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// Availability is derived per calendar day and never stored.
type Availability struct {
	Date  string     `json:"date"`
	Slots []TimeSlot `json:"slots"`
}

const DateLayout = "2006-01-02"
