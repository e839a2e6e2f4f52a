// README: Identifier and coordinate value objects shared by modules.
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type ID string

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

var ErrInvalidPoint = errors.New("invalid coordinates")

// Valid reports whether the point lies inside WGS84 bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}

// ParsePoint accepts "(lat,lng)", "lat,lng" and "lat, lng".
func ParsePoint(s string) (Point, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(v, "(")
	v = strings.TrimSuffix(v, ")")
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("%w: %q", ErrInvalidPoint, s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %q", ErrInvalidPoint, s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %q", ErrInvalidPoint, s)
	}
	p := Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return Point{}, fmt.Errorf("%w: %q", ErrInvalidPoint, s)
	}
	return p, nil
}

type ActorKind string

const (
	ActorRider  ActorKind = "rider"
	ActorDriver ActorKind = "driver"
	ActorSystem ActorKind = "system"
)

// Identity is the caller resolved from a bearer credential.
type Identity struct {
	Kind ActorKind
	ID   ID
}
