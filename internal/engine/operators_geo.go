package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

const (
	earthRadiusKm = 6371.0
	kmPerMile     = 1.609344
	geoEqEpsilon  = 0.01
)

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// Valid reports whether both coordinates are within range.
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// ParseGeoPoint extracts a point from {lat,lon}, {latitude,longitude},
// mixed key maps, or a [lat, lon] list.
func ParseGeoPoint(v any) (GeoPoint, error) {
	var latRaw, lonRaw any
	if list, ok := rules.AsList(v); ok {
		if len(list) != 2 {
			return GeoPoint{}, fmt.Errorf("coordinate list must have 2 elements, got %d", len(list))
		}
		latRaw, lonRaw = list[0], list[1]
	} else if m, ok := rules.AsMap(v); ok {
		latRaw = firstKey(m, "lat", "latitude")
		lonRaw = firstKey(m, "lon", "lng", "long", "longitude")
	} else {
		return GeoPoint{}, fmt.Errorf("unsupported coordinate shape %T", v)
	}

	lat, ok := toFloat64(latRaw)
	if !ok {
		return GeoPoint{}, fmt.Errorf("%w: latitude %v", errNotNumber, latRaw)
	}
	lon, ok := toFloat64(lonRaw)
	if !ok {
		return GeoPoint{}, fmt.Errorf("%w: longitude %v", errNotNumber, lonRaw)
	}
	p := GeoPoint{Lat: lat, Lon: lon}
	if !p.Valid() {
		return GeoPoint{}, fmt.Errorf("%w: coordinates (%v, %v)", errOutOfRange, lat, lon)
	}
	return p, nil
}

func firstKey(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

// HaversineKm returns the great-circle distance between a and b in kilometers.
func HaversineKm(a, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func convertKm(km float64, unit string) (float64, error) {
	switch unit {
	case "", "km", "kilometer", "kilometers":
		return km, nil
	case "mi", "mile", "miles":
		return km / kmPerMile, nil
	case "m", "meter", "meters":
		return km * 1000, nil
	default:
		return 0, fmt.Errorf("unknown distance unit %q", unit)
	}
}

type geoQuery struct {
	target     GeoPoint
	radius     float64
	hasRadius  bool
	unit       string
	comparison string
}

// parseGeoQuery merges the target point with radius, unit and comparison
// taken from the expected map or from additional.
func parseGeoQuery(expected, additional any) (geoQuery, error) {
	var q geoQuery
	target, err := ParseGeoPoint(expected)
	if err != nil {
		return q, err
	}
	q.target = target

	apply := func(m map[string]any) error {
		if r, ok := m["radius"]; ok && r != nil {
			f, ok := toFloat64(r)
			if !ok {
				return fmt.Errorf("%w: radius %v", errNotNumber, r)
			}
			q.radius, q.hasRadius = f, true
		}
		if u, ok := m["unit"]; ok && u != nil {
			q.unit = modeOf(u)
		}
		if c, ok := m["comparison"]; ok && c != nil {
			q.comparison = modeOf(c)
		}
		return nil
	}
	if m, ok := rules.AsMap(expected); ok {
		if err := apply(m); err != nil {
			return q, err
		}
	}

	switch add := additional.(type) {
	case nil:
	case string:
		q.comparison = strings.ToLower(strings.TrimSpace(add))
	default:
		if m, ok := rules.AsMap(add); ok {
			if err := apply(m); err != nil {
				return q, err
			}
			break
		}
		f, ok := toFloat64(add)
		if !ok {
			return q, fmt.Errorf("%w: radius %v", errNotNumber, add)
		}
		q.radius, q.hasRadius = f, true
	}
	return q, nil
}

type geoDistanceHandler struct{}

func (geoDistanceHandler) Check(actual, expected, additional any) (bool, error) {
	from, err := ParseGeoPoint(actual)
	if err != nil {
		return false, err
	}
	q, err := parseGeoQuery(expected, additional)
	if err != nil {
		return false, err
	}
	if !q.hasRadius {
		return false, fmt.Errorf("%w: radius", errMissingOperand)
	}
	if q.radius < 0 {
		return false, fmt.Errorf("%w: radius %v", errNegative, q.radius)
	}
	dist, err := convertKm(HaversineKm(from, q.target), q.unit)
	if err != nil {
		return false, err
	}

	switch q.comparison {
	case "", "lte", "<=":
		return dist <= q.radius, nil
	case "lt", "<":
		return dist < q.radius, nil
	case "gt", ">":
		return dist > q.radius, nil
	case "gte", ">=":
		return dist >= q.radius, nil
	case "eq", "==":
		return math.Abs(dist-q.radius) <= geoEqEpsilon, nil
	default:
		return false, fmt.Errorf("%w: %q", errUnknownComparison, q.comparison)
	}
}
