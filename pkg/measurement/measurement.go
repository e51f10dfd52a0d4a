// Package measurement collects typed, hashed evidence about a device's
// state (firmware, configuration, runtime, key material, identity, policy)
// and extends it into a PCR bank, the way a TPM-backed boot chain would.
package measurement

import (
	"sync"

	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/keccak"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pcr"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pqcerr"
)

// ComponentType is the closed set of things a Measurement can describe.
type ComponentType uint32

const (
	Firmware ComponentType = iota
	Configuration
	Runtime
	Keys
	NetworkConfig
	DeviceIdentity
	Policy
	Custom

	numComponentTypes = 8
)

// pcrIndexFor is the fixed ComponentType -> PCR-register mapping.
var pcrIndexFor = [numComponentTypes]int{
	Firmware:       0,
	Configuration:  1,
	Runtime:        2,
	Keys:           3,
	NetworkConfig:  4,
	DeviceIdentity: 5,
	Policy:         6,
	Custom:         7,
}

// defaultCollectOrder is the fixed order CollectAll walks.
var defaultCollectOrder = []ComponentType{
	Firmware, Configuration, Runtime, Keys, DeviceIdentity,
}

// RecordSize is the fixed wire width of one Measurement record, as it
// appears in an attestation report's measurement slots.
const RecordSize = 128

const descriptionCapacity = 63 // plus one NUL terminator byte

// Measurement is one piece of evidence: a 32-byte digest of some
// component's state, the PCR register it was folded into, when it was
// taken, how large the original source material was, and an optional
// human-readable description.
type Measurement struct {
	PCRIndex    uint32
	Type        ComponentType
	Value       [32]byte
	Timestamp   uint64
	Size        uint32
	Description string // truncated to descriptionCapacity on Marshal
}

// Marshal encodes m into its fixed RecordSize-byte wire form.
func (m Measurement) Marshal() [RecordSize]byte {
	var out [RecordSize]byte
	pos := 0
	putU32(out[pos:], m.PCRIndex)
	pos += 4
	putU32(out[pos:], uint32(m.Type))
	pos += 4
	copy(out[pos:], m.Value[:])
	pos += 32
	putU64(out[pos:], m.Timestamp)
	pos += 8
	putU32(out[pos:], m.Size)
	pos += 4

	desc := []byte(m.Description)
	if len(desc) > descriptionCapacity {
		desc = desc[:descriptionCapacity]
	}
	copy(out[pos:pos+len(desc)], desc)
	// out[pos+len(desc)] is left zero as the NUL terminator; the remaining
	// reserved bytes up to RecordSize are zero padding.
	return out
}

// UnmarshalMeasurement decodes a record produced by Marshal.
func UnmarshalMeasurement(data []byte) (Measurement, error) {
	if len(data) != RecordSize {
		return Measurement{}, pqcerr.Wrap("measurement.Unmarshal", pqcerr.ErrInvalidMeasurement)
	}
	var m Measurement
	pos := 0
	m.PCRIndex = getU32(data[pos:])
	pos += 4
	m.Type = ComponentType(getU32(data[pos:]))
	pos += 4
	copy(m.Value[:], data[pos:pos+32])
	pos += 32
	m.Timestamp = getU64(data[pos:])
	pos += 8
	m.Size = getU32(data[pos:])
	pos += 4

	desc := data[pos : pos+descriptionCapacity+1]
	end := 0
	for end < len(desc) && desc[end] != 0 {
		end++
	}
	m.Description = string(desc[:end])
	return m, nil
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// LogCapacity is the maximum number of entries a Log will hold.
const LogCapacity = 256

// Log is an ordered, append-only, bounded sequence of measurements.
type Log struct {
	mu       sync.Mutex
	entries  []Measurement
	capacity int
}

// NewLog returns an empty Log bounded at LogCapacity entries.
func NewLog() *Log {
	return NewLogWithCapacity(LogCapacity)
}

// NewLogWithCapacity returns an empty Log bounded at capacity entries.
// capacity is clamped to LogCapacity, since no Log may exceed the package
// maximum regardless of configuration.
func NewLogWithCapacity(capacity int) *Log {
	if capacity > LogCapacity || capacity <= 0 {
		capacity = LogCapacity
	}
	return &Log{entries: make([]Measurement, 0, capacity), capacity: capacity}
}

// Append adds m to the log, or returns ErrLogFull if the log is already at
// its configured capacity.
func (l *Log) Append(m Measurement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.capacity {
		return pqcerr.Wrap("measurement.Log.Append", pqcerr.ErrLogFull)
	}
	l.entries = append(l.entries, m)
	return nil
}

// Entries returns a copy of the log's current contents, in append order.
func (l *Log) Entries() []Measurement {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Measurement, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries currently in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Source supplies the raw bytes backing a measurement of a given
// component. Defined here (rather than only in pkg/platform) so this
// package has no import-cycle dependency on pkg/platform; pkg/platform's
// MeasurementSource satisfies this interface.
type Source interface {
	Read(component ComponentType) ([]byte, error)
}

// Clock supplies wall-clock time as seconds since the Unix epoch.
type Clock interface {
	Now() uint64
}

// Collector produces Measurements from a Source, extends the resulting
// digest into a PCR bank, and appends the record to a bounded Log.
type Collector struct {
	bank   *pcr.Bank
	source Source
	clock  Clock
	log    *Log
}

// NewCollector binds a Collector to the given PCR bank, measurement
// source, clock, and log.
func NewCollector(bank *pcr.Bank, source Source, clock Clock, log *Log) *Collector {
	return &Collector{bank: bank, source: source, clock: clock, log: log}
}

// Collect reads component's source bytes, hashes them into a Measurement,
// extends the component's PCR register with the digest, and appends the
// record to the log (unless the log is full, in which case ErrLogFull is
// returned but the PCR extend has already happened).
func (c *Collector) Collect(component ComponentType) (Measurement, error) {
	if uint32(component) >= numComponentTypes {
		return Measurement{}, pqcerr.Wrap("measurement.Collect", pqcerr.ErrInvalidMeasurement)
	}

	raw, err := c.source.Read(component)
	if err != nil {
		return Measurement{}, pqcerr.Wrap("measurement.Collect", err)
	}

	value := keccak.SHA3_256(raw)
	pcrIndex := pcrIndexFor[component]

	m := Measurement{
		PCRIndex:  uint32(pcrIndex),
		Type:      component,
		Value:     value,
		Timestamp: c.clock.Now(),
		Size:      uint32(len(raw)),
	}

	if err := c.bank.Extend(pcrIndex, value); err != nil {
		return Measurement{}, pqcerr.Wrap("measurement.Collect", err)
	}

	if err := c.log.Append(m); err != nil {
		return m, err
	}

	return m, nil
}

// CollectAll runs Collect over the fixed default set of component types
// (Firmware, Configuration, Runtime, Keys, DeviceIdentity), in that order,
// stopping and returning the first error encountered.
func (c *Collector) CollectAll() ([]Measurement, error) {
	out := make([]Measurement, 0, len(defaultCollectOrder))
	for _, t := range defaultCollectOrder {
		m, err := c.Collect(t)
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}
