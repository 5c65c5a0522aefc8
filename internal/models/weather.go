package models

// Condition is the provider's weather descriptor.
type Condition struct {
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Code        int    `json:"code,omitempty"`
}

// WeatherSnapshot is a current-conditions reading for a place. It is only
// embedded in responses, never stored.
type WeatherSnapshot struct {
	CityName   string    `json:"cityName"`
	Temp       float64   `json:"temp"`
	AppTemp    float64   `json:"appTemp"`
	Humidity   float64   `json:"rh"`
	WindSpeed  float64   `json:"windSpeed"`
	Clouds     int       `json:"clouds"`
	Weather    Condition `json:"weather"`
	Sunrise    string    `json:"sunrise,omitempty"`
	Sunset     string    `json:"sunset,omitempty"`
	ObservedAt string    `json:"observedAt,omitempty"`
}

// ForecastDay is one calendar day of a daily forecast.
type ForecastDay struct {
	Date    string    `json:"date"`
	MaxTemp float64   `json:"maxTemp"`
	MinTemp float64   `json:"minTemp"`
	Temp    float64   `json:"temp"`
	Weather Condition `json:"weather"`
}

// WeatherResult is the lookup response: a snapshot plus a possibly filtered forecast.
type WeatherResult struct {
	Current  *WeatherSnapshot `json:"current,omitempty"`
	Forecast []ForecastDay    `json:"forecast"`
}

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
