package geo

import "strings"

// Candidate carries the location signals of a prospective event. Empty
// strings and nil coordinates mean the source did not supply that signal.
type Candidate struct {
	City      string
	Address   string
	Latitude  *float64
	Longitude *float64
}

// Region classifies candidates as in or out of a metro area using three
// tiers of decreasing structure: city allow-list, address text tokens,
// then a coordinate radius check.
type Region struct {
	// Cities are lowercase names matched as substrings of the candidate
	// city field (primary city plus known suburbs).
	Cities []string

	// CityToken and StateToken are lowercase fragments matched against
	// free-text addresses, e.g. "portland" and ", or ".
	CityToken  string
	StateToken string

	// CenterLat/CenterLng and RadiusDeg define the coordinate fallback.
	// Distance is squared Euclidean in degrees; 0.72 approximates a
	// 50-mile radius at Portland's latitude.
	CenterLat float64
	CenterLng float64
	RadiusDeg float64
}

// Contains reports whether the candidate is inside the region.
// Tiers are evaluated in priority order and the first signal present
// decides; a candidate with no location signal at all is excluded, since
// ungeolocated listings are usually global rather than local.
func (r Region) Contains(c Candidate) bool {
	city := strings.ToLower(c.City)
	if city != "" {
		for _, known := range r.Cities {
			if strings.Contains(city, known) {
				return true
			}
		}
	}

	addr := strings.ToLower(c.Address)
	if addr != "" {
		if r.CityToken != "" && strings.Contains(addr, r.CityToken) {
			return true
		}
		if r.StateToken != "" && strings.Contains(addr, r.StateToken) {
			return true
		}
	}

	if c.Latitude != nil && c.Longitude != nil {
		dlat := *c.Latitude - r.CenterLat
		dlng := *c.Longitude - r.CenterLng
		return dlat*dlat+dlng*dlng < r.RadiusDeg*r.RadiusDeg
	}

	return false
}
