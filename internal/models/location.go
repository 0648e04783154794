package models

// GeoPoint represents a geographical position with latitude and longitude in degrees.
type GeoPoint struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lon float64 `bson:"lon" json:"lon"`
}
