// Package platform declares the collaborator interfaces the attestation
// core treats as opaque: where measurement bytes and wall-clock time come
// from is an integration concern, not something the core owns. Concrete
// implementations here exist only for tests and demos; a real deployment
// supplies its own (a flash reader, a TPM bus driver, and so on).
package platform

import (
	"time"

	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/measurement"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pqcerr"
)

// MeasurementSource supplies the raw bytes to be hashed into a measurement
// for a given component type.
type MeasurementSource interface {
	Read(component measurement.ComponentType) ([]byte, error)
}

// Clock supplies wall-clock time as seconds since the Unix epoch.
type Clock interface {
	Now() uint64
}

// SystemClock is a Clock backed by the host's wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// StaticMeasurementSource is a map-backed MeasurementSource for tests and
// demos: it returns pre-seeded bytes for each component type it knows
// about.
type StaticMeasurementSource struct {
	data map[measurement.ComponentType][]byte
}

// NewStaticMeasurementSource returns a MeasurementSource that serves data
// verbatim per component type. Types absent from data yield
// ErrInvalidMeasurement on Read.
func NewStaticMeasurementSource(data map[measurement.ComponentType][]byte) *StaticMeasurementSource {
	cp := make(map[measurement.ComponentType][]byte, len(data))
	for k, v := range data {
		buf := make([]byte, len(v))
		copy(buf, v)
		cp[k] = buf
	}
	return &StaticMeasurementSource{data: cp}
}

// Read implements MeasurementSource.
func (s *StaticMeasurementSource) Read(component measurement.ComponentType) ([]byte, error) {
	buf, ok := s.data[component]
	if !ok {
		return nil, pqcerr.Wrap("platform.Read", pqcerr.ErrInvalidMeasurement)
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}
