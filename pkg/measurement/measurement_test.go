package measurement

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pcr"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pqcerr"
)

type staticSource struct {
	data map[ComponentType][]byte
}

func (s staticSource) Read(c ComponentType) ([]byte, error) {
	v, ok := s.data[c]
	if !ok {
		return nil, pqcerr.ErrInvalidMeasurement
	}
	return v, nil
}

type fixedClock struct{ t uint64 }

func (f fixedClock) Now() uint64 { return f.t }

func newFullSource() staticSource {
	return staticSource{data: map[ComponentType][]byte{
		Firmware:       []byte("firmware-v1"),
		Configuration:  []byte("config-v1"),
		Runtime:        []byte("runtime-state"),
		Keys:           []byte("public-key-bytes"),
		NetworkConfig:  []byte("net-config"),
		DeviceIdentity: []byte("device-serial-0001"),
		Policy:         []byte("policy-v1"),
		Custom:         []byte("custom"),
	}}
}

func TestCollectProducesDigestAndExtendsPCR(t *testing.T) {
	bank := pcr.New()
	log := NewLog()
	c := NewCollector(bank, newFullSource(), fixedClock{t: 1000}, log)

	m, err := c.Collect(Firmware)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if m.PCRIndex != 0 {
		t.Fatalf("PCRIndex = %d, want 0", m.PCRIndex)
	}
	if m.Timestamp != 1000 {
		t.Fatalf("Timestamp = %d, want 1000", m.Timestamp)
	}
	count, _ := bank.ExtendCount(0)
	if count != 1 {
		t.Fatalf("ExtendCount(0) = %d, want 1", count)
	}
	pcrValue, _ := bank.Read(0)
	if pcrValue == ([32]byte{}) {
		t.Fatal("PCR register was not extended")
	}
	if log.Len() != 1 {
		t.Fatalf("log length = %d, want 1", log.Len())
	}
}

func TestComponentTypePCRMapping(t *testing.T) {
	bank := pcr.New()
	log := NewLog()
	c := NewCollector(bank, newFullSource(), fixedClock{}, log)

	want := map[ComponentType]uint32{
		Firmware:       0,
		Configuration:  1,
		Runtime:        2,
		Keys:           3,
		NetworkConfig:  4,
		DeviceIdentity: 5,
		Policy:         6,
		Custom:         7,
	}
	for ct, idx := range want {
		m, err := c.Collect(ct)
		if err != nil {
			t.Fatalf("Collect(%d): %v", ct, err)
		}
		if m.PCRIndex != idx {
			t.Fatalf("type %d: PCRIndex = %d, want %d", ct, m.PCRIndex, idx)
		}
	}
}

func TestCollectAllIteratesFixedOrderAndStopsOnFirstError(t *testing.T) {
	bank := pcr.New()
	log := NewLog()
	partial := staticSource{data: map[ComponentType][]byte{
		Firmware:      []byte("fw"),
		Configuration: []byte("cfg"),
		// Runtime intentionally missing: CollectAll should stop here.
	}}
	c := NewCollector(bank, partial, fixedClock{}, log)

	got, err := c.CollectAll()
	if err == nil {
		t.Fatal("expected CollectAll to fail on the missing Runtime source")
	}
	if len(got) != 2 {
		t.Fatalf("CollectAll returned %d measurements before failing, want 2", len(got))
	}
	if got[0].Type != Firmware || got[1].Type != Configuration {
		t.Fatalf("CollectAll did not iterate in fixed order: got %v, %v", got[0].Type, got[1].Type)
	}
}

func TestCollectAllSucceedsOverDefaultFive(t *testing.T) {
	bank := pcr.New()
	log := NewLog()
	c := NewCollector(bank, newFullSource(), fixedClock{t: 42}, log)

	got, err := c.CollectAll()
	if err != nil {
		t.Fatalf("CollectAll: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("CollectAll returned %d measurements, want 5", len(got))
	}
}

func TestCollectRejectsUnknownComponentType(t *testing.T) {
	bank := pcr.New()
	log := NewLog()
	c := NewCollector(bank, newFullSource(), fixedClock{}, log)

	if _, err := c.Collect(ComponentType(numComponentTypes)); err == nil {
		t.Fatal("expected error collecting an out-of-range component type")
	}
}

func TestLogRejectsAppendPastCapacity(t *testing.T) {
	log := NewLog()
	for i := 0; i < LogCapacity; i++ {
		if err := log.Append(Measurement{}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	err := log.Append(Measurement{})
	if !errors.Is(err, pqcerr.ErrLogFull) {
		t.Fatalf("expected ErrLogFull, got %v", err)
	}
}

func TestMeasurementMarshalUnmarshalRoundTrip(t *testing.T) {
	m := Measurement{
		PCRIndex:    3,
		Type:        Keys,
		Value:       [32]byte{1, 2, 3, 4},
		Timestamp:   1234567890,
		Size:        99,
		Description: "a short description",
	}
	encoded := m.Marshal()
	if len(encoded) != RecordSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), RecordSize)
	}
	decoded, err := UnmarshalMeasurement(encoded[:])
	if err != nil {
		t.Fatalf("UnmarshalMeasurement: %v", err)
	}
	if decoded.PCRIndex != m.PCRIndex || decoded.Type != m.Type || decoded.Value != m.Value ||
		decoded.Timestamp != m.Timestamp || decoded.Size != m.Size || decoded.Description != m.Description {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, m)
	}
}

func TestMeasurementMarshalTruncatesLongDescription(t *testing.T) {
	long := string(bytes.Repeat([]byte{'x'}, 200))
	m := Measurement{Description: long}
	encoded := m.Marshal()
	decoded, err := UnmarshalMeasurement(encoded[:])
	if err != nil {
		t.Fatalf("UnmarshalMeasurement: %v", err)
	}
	if len(decoded.Description) != descriptionCapacity {
		t.Fatalf("decoded description length = %d, want %d", len(decoded.Description), descriptionCapacity)
	}
}
