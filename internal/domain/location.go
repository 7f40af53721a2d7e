package domain

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Lat float64
	Lng float64
}

// GeoAddress is what a geocoding provider knows about a place.
type GeoAddress struct {
	Address string
	City    string
	Country string
}

// LocationResult is a resolved delivery location.
type LocationResult struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
}
