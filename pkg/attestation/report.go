// Package attestation builds and verifies signed attestation reports: a
// fixed-layout snapshot of a device's PCR bank and recent measurements,
// bound together with a device identity and signed under the device's
// lattice-signature keypair.
package attestation

import (
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/keccak"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/measurement"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pcr"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pqcerr"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/sig"
)

// ReportVersion is the only version this package produces or accepts.
const ReportVersion = 1

// MaxMeasurementSlots is the number of fixed-width measurement records a
// report carries.
const MaxMeasurementSlots = 32

const (
	deviceIDSize = 32

	// signedPrefixSize is the size, in bytes, of the portion of a
	// marshaled report that is covered by its signature: device_id,
	// timestamp, version, measurement_count, the PCR snapshot, and the
	// measurement slots. signature_length and the raw signature bytes
	// that follow are deliberately excluded — see the doc comment on
	// Report.signedPrefix for why.
	signedPrefixSize = deviceIDSize + 8 + 4 + 4 + pcr.N*32 + MaxMeasurementSlots*measurement.RecordSize

	// ReportSize is the total marshaled size of a Report.
	ReportSize = signedPrefixSize + 4 + sig.SignatureSize
)

// Report is a fixed-layout, canonically-serializable snapshot: device
// identity, a timestamp, a PCR snapshot, up to MaxMeasurementSlots recent
// measurements, and a signature over all of the above.
type Report struct {
	DeviceID         [32]byte
	Timestamp        uint64
	Version          uint32
	MeasurementCount uint32
	PCR              [pcr.N][32]byte
	Measurements     [MaxMeasurementSlots]measurement.Measurement
	SignatureLength  uint32
	Signature        [sig.SignatureSize]byte
}

// signedPrefix returns the canonical bytes covered by the report's
// signature: everything up to, but not including, the signature_length
// field.
//
// The reference implementation this is grounded on hashes
// sizeof(report)-sizeof(signature), which includes signature_length in
// the hashed region — but signature_length isn't known until after
// signing, so the reference's own build and verify paths hash different
// bytes for that field (zero at build time, the real length at verify
// time) and would never agree once a report carries a nonzero-length
// signature. This implementation excludes signature_length from the
// signed region entirely, so there is nothing for build and verify to
// disagree about.
func (r *Report) signedPrefix() []byte {
	buf := make([]byte, signedPrefixSize)
	pos := 0
	copy(buf[pos:], r.DeviceID[:])
	pos += deviceIDSize
	putU64(buf[pos:], r.Timestamp)
	pos += 8
	putU32(buf[pos:], r.Version)
	pos += 4
	putU32(buf[pos:], r.MeasurementCount)
	pos += 4
	for i := 0; i < pcr.N; i++ {
		copy(buf[pos:], r.PCR[i][:])
		pos += 32
	}
	for i := 0; i < MaxMeasurementSlots; i++ {
		rec := r.Measurements[i].Marshal()
		copy(buf[pos:], rec[:])
		pos += measurement.RecordSize
	}
	return buf
}

// digest returns the SHA3-256 digest of the report's signed prefix.
func (r *Report) digest() [32]byte {
	return keccak.SHA3_256(r.signedPrefix())
}

// Marshal encodes the full report, including its signature, into the
// fixed ReportSize-byte canonical wire form.
func (r *Report) Marshal() [ReportSize]byte {
	var out [ReportSize]byte
	prefix := r.signedPrefix()
	pos := copy(out[:], prefix)
	putU32(out[pos:], r.SignatureLength)
	pos += 4
	copy(out[pos:], r.Signature[:])
	return out
}

// Parse decodes a report produced by Marshal. It performs no structural or
// signature validation beyond what's needed to decode fixed-width
// fields — that belongs to Verify.
func Parse(data []byte) (Report, error) {
	if len(data) != ReportSize {
		return Report{}, pqcerr.Wrap("attestation.Parse", pqcerr.ErrInvalidFormat)
	}
	var r Report
	pos := 0
	copy(r.DeviceID[:], data[pos:])
	pos += deviceIDSize
	r.Timestamp = getU64(data[pos:])
	pos += 8
	r.Version = getU32(data[pos:])
	pos += 4
	r.MeasurementCount = getU32(data[pos:])
	pos += 4
	for i := 0; i < pcr.N; i++ {
		copy(r.PCR[i][:], data[pos:])
		pos += 32
	}
	for i := 0; i < MaxMeasurementSlots; i++ {
		m, err := measurement.UnmarshalMeasurement(data[pos : pos+measurement.RecordSize])
		if err != nil {
			return Report{}, pqcerr.Wrap("attestation.Parse", err)
		}
		r.Measurements[i] = m
		pos += measurement.RecordSize
	}
	r.SignatureLength = getU32(data[pos:])
	pos += 4
	copy(r.Signature[:], data[pos:])
	return r, nil
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

// TrustLevel classifies how much confidence a verifier should place in a
// report that passed every check.
type TrustLevel uint32

const (
	TrustLevelUnknown TrustLevel = iota
	TrustLevelHigh
)

// VerificationResult is the outcome of Verify. A rejected report is
// reported through this value, never through a Go error: only
// infrastructure failures escape Verify as errors.
type VerificationResult struct {
	Valid      bool
	TrustLevel TrustLevel
	DeviceID   [32]byte
	Timestamp  uint64
	Rejection  error // the specific pqcerr sentinel, nil when Valid
}

// maxClockSkewSeconds is the allowed drift between a report's timestamp
// and the verifier's clock.
const maxClockSkewSeconds = 300

// Verify checks report against devicePK and the verifier's current time.
// It never panics or returns a Go error for a cryptographically or
// structurally invalid report; VerificationResult.Rejection carries the
// reason.
func Verify(report Report, devicePK sig.PublicKey, now uint64) VerificationResult {
	if report.Version != ReportVersion || report.MeasurementCount > MaxMeasurementSlots {
		return VerificationResult{Rejection: pqcerr.ErrInvalidFormat}
	}

	if report.SignatureLength > sig.SignatureSize {
		return VerificationResult{Rejection: pqcerr.ErrSignatureInvalid}
	}
	d := report.digest()
	signature, err := sig.UnmarshalSignature(report.Signature[:report.SignatureLength])
	if err != nil || !sig.Verify(devicePK, d[:], signature).Accepted {
		return VerificationResult{Rejection: pqcerr.ErrSignatureInvalid}
	}

	var skew int64
	if now >= report.Timestamp {
		skew = int64(now - report.Timestamp)
	} else {
		skew = int64(report.Timestamp - now)
	}
	if skew > maxClockSkewSeconds {
		return VerificationResult{Rejection: pqcerr.ErrTimestampInvalid}
	}

	for i := uint32(0); i < report.MeasurementCount; i++ {
		m := report.Measurements[i]
		if m.PCRIndex >= pcr.N {
			return VerificationResult{Rejection: pqcerr.ErrInvalidPcr}
		}
		if uint32(m.Type) >= 8 {
			return VerificationResult{Rejection: pqcerr.ErrInvalidMeasurement}
		}
	}

	return VerificationResult{
		Valid:      true,
		TrustLevel: TrustLevelHigh,
		DeviceID:   report.DeviceID,
		Timestamp:  report.Timestamp,
	}
}
