package attestation

import (
	"testing"

	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/measurement"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/platform"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/rng"
)

func newTestSource() *platform.StaticMeasurementSource {
	return platform.NewStaticMeasurementSource(map[measurement.ComponentType][]byte{
		measurement.Firmware:       []byte("firmware-v1"),
		measurement.Configuration:  []byte("config-v1"),
		measurement.Runtime:        []byte("runtime-state"),
		measurement.Keys:           []byte("public-key-bytes"),
		measurement.DeviceIdentity: []byte("device-serial-0001"),
	})
}

type fixedClock struct{ t uint64 }

func (f fixedClock) Now() uint64 { return f.t }

func newTestContext(t *testing.T) (*Context, rng.Source) {
	t.Helper()
	src := rng.NewCryptoSource()
	cfg := Config{DeviceSerial: "device-0001"}
	ctx, err := Init(cfg, src, newTestSource(), fixedClock{t: 1_700_000_000}, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return ctx, src
}

func TestBuildReportThenVerifyAccepts(t *testing.T) {
	ctx, src := newTestContext(t)
	if _, err := ctx.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	report, err := ctx.BuildReport(1_700_000_010, src)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	result := Verify(report, ctx.PublicKey(), 1_700_000_010)
	if !result.Valid {
		t.Fatalf("Verify rejected a freshly built report: %v", result.Rejection)
	}
	if result.TrustLevel != TrustLevelHigh {
		t.Fatalf("TrustLevel = %v, want TrustLevelHigh", result.TrustLevel)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	ctx, src := newTestContext(t)
	ctx.Collect()
	report, err := ctx.BuildReport(1_700_000_000, src)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	result := Verify(report, ctx.PublicKey(), 1_700_000_000+1000)
	if result.Valid {
		t.Fatal("Verify accepted a report whose timestamp is far outside the clock-skew window")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	ctx, src := newTestContext(t)
	ctx.Collect()
	report, err := ctx.BuildReport(1_700_000_000, src)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	report.Signature[0] ^= 0xFF

	result := Verify(report, ctx.PublicKey(), 1_700_000_000)
	if result.Valid {
		t.Fatal("Verify accepted a report with a tampered signature")
	}
}

func TestVerifyRejectsWrongVersion(t *testing.T) {
	ctx, src := newTestContext(t)
	ctx.Collect()
	report, err := ctx.BuildReport(1_700_000_000, src)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	report.Version = 2

	result := Verify(report, ctx.PublicKey(), 1_700_000_000)
	if result.Valid {
		t.Fatal("Verify accepted a report with an unsupported version")
	}
}

func TestVerifyRejectsUnderADifferentPublicKey(t *testing.T) {
	ctx, src := newTestContext(t)
	ctx.Collect()
	report, err := ctx.BuildReport(1_700_000_000, src)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	other, _ := newTestContext(t)
	result := Verify(report, other.PublicKey(), 1_700_000_000)
	if result.Valid {
		t.Fatal("Verify accepted a report under the wrong device's public key")
	}
}

func TestReportMarshalParseRoundTrip(t *testing.T) {
	ctx, src := newTestContext(t)
	ctx.Collect()
	report, err := ctx.BuildReport(1_700_000_000, src)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	encoded := report.Marshal()
	if len(encoded) != ReportSize {
		t.Fatalf("encoded report length = %d, want %d", len(encoded), ReportSize)
	}

	decoded, err := Parse(encoded[:])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	result := Verify(decoded, ctx.PublicKey(), 1_700_000_000)
	if !result.Valid {
		t.Fatalf("Verify rejected a report round-tripped through Marshal/Parse: %v", result.Rejection)
	}

	reEncoded := decoded.Marshal()
	if encoded != reEncoded {
		t.Fatal("report did not round-trip byte-for-byte through Marshal/Parse")
	}
}

func TestParseRejectsWrongLength(t *testing.T) {
	if _, err := Parse(make([]byte, ReportSize-1)); err == nil {
		t.Fatal("expected an error parsing a truncated report")
	}
}
