package model

import "time"

// Observation is one accepted row of an OBSERVATIONS import.
type Observation struct {
	Species    string
	Location   string
	ObservedAt time.Time
	Count      int
	Observer   string
}

// Location is one accepted row of a LOCATIONS import.
type Location struct {
	Code      string
	Name      string
	Latitude  float64
	Longitude float64
}
