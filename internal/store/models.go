package store

import "time"

type Species struct {
	Code string `gorm:"size:32;primaryKey"`
	Name string `gorm:"size:255;not null"`
}

func (Species) TableName() string {
	return "species"
}

type Location struct {
	Code      string  `gorm:"size:32;primaryKey"`
	Name      string  `gorm:"size:255;not null"`
	Latitude  float64 `gorm:"not null"`
	Longitude float64 `gorm:"not null"`
	JobID     *string `gorm:"size:64;index"`
	CreatedAt time.Time
}

func (Location) TableName() string {
	return "locations"
}

type Observation struct {
	ID           int64     `gorm:"primaryKey"`
	JobID        string    `gorm:"size:64;index;not null"`
	SpeciesCode  string    `gorm:"size:32;not null"`
	LocationCode string    `gorm:"size:32;not null"`
	ObservedAt   time.Time `gorm:"not null"`
	Count        int       `gorm:"not null"`
	Observer     *string   `gorm:"size:255"`
	CreatedAt    time.Time `gorm:"not null;default:now()"`
}

func (Observation) TableName() string {
	return "observations"
}
