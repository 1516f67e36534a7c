package model

import "time"

// AnalyticsSnapshot holds marketplace-wide aggregates.
type AnalyticsSnapshot struct {
	TotalBookings  int            `json:"totalBookings" yaml:"total_bookings"`
	ActiveBookings int            `json:"activeBookings" yaml:"active_bookings"`
	ByService      map[string]int `json:"byService" yaml:"by_service"`
	ByFrequency    map[string]int `json:"byFrequency" yaml:"by_frequency"`
	PresentDays    int            `json:"presentDays" yaml:"present_days"`
	AbsentDays     int            `json:"absentDays" yaml:"absent_days"`
	Revenue        float64        `json:"revenue" yaml:"revenue"`
	Currency       string         `json:"currency" yaml:"currency"`
	GeneratedAt    time.Time      `json:"generatedAt" yaml:"generated_at"`
}

// ServiceOffering is one bookable service type.
type ServiceOffering struct {
	Type        string      `json:"type" yaml:"type"`
	Name        string      `json:"name" yaml:"name"`
	BasePrice   float64     `json:"basePrice" yaml:"base_price"`
	Frequencies []Frequency `json:"frequencies" yaml:"frequencies"`
}

// ServiceCatalog lists the offered services.
type ServiceCatalog struct {
	Services []ServiceOffering `json:"services" yaml:"services"`
	Currency string            `json:"currency" yaml:"currency"`
}
