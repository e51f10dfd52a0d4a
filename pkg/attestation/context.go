package attestation

import (
	"context"
	"sync"

	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/alog"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/measurement"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pcr"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/platform"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pqcerr"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/rng"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/secmem"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/sig"
)

// DeviceType is the closed set of device classes a Config may declare.
type DeviceType uint32

const (
	DeviceTypeGeneric DeviceType = iota
	DeviceTypeGateway
	DeviceTypeSensor
	DeviceTypeController
)

const maxDeviceSerialLen = 63

// Config carries the options Init accepts, unchanged in
// shape from the specification's configuration surface.
type Config struct {
	DeviceType            DeviceType
	DeviceSerial          string
	ContinuousMonitoring  bool
	IntervalMinutes       uint32
	RequireHardwareRoot   bool
	LogEnabled            bool
	MaxLogEntries         uint32
}

// Context owns a device's signing keypair, PCR bank, and measurement log,
// and serializes every operation against a single mutex: this module
// forbids the process-wide global state the reference implementation
// keeps (a single static attestation_context_t), so every caller holds
// its own Context and nothing here is shared across Contexts implicitly.
type Context struct {
	mu sync.Mutex

	config Config
	log    alog.Logger

	deviceID [32]byte
	pk       sig.PublicKey
	sk       sig.SecretKey

	bank         *pcr.Bank
	measurements *measurement.Log
	collector    *measurement.Collector

	cleaned bool
}

// Init validates cfg, generates a fresh signing keypair from src, and
// returns a ready-to-use Context wired to source for measurement
// collection and clock for timestamps.
func Init(cfg Config, src rng.Source, source platform.MeasurementSource, clock platform.Clock, logger alog.Logger) (*Context, error) {
	if len(cfg.DeviceSerial) > maxDeviceSerialLen {
		return nil, pqcerr.Wrap("attestation.Init", pqcerr.ErrInvalidParameter)
	}
	if cfg.MaxLogEntries > measurement.LogCapacity {
		return nil, pqcerr.Wrap("attestation.Init", pqcerr.ErrInvalidParameter)
	}

	pk, sk, err := sig.GenerateKeyPair(src)
	if err != nil {
		return nil, pqcerr.Wrap("attestation.Init", err)
	}

	capacity := int(cfg.MaxLogEntries)
	if capacity == 0 {
		capacity = measurement.LogCapacity
	}

	bank := pcr.New()
	logEntries := measurement.NewLogWithCapacity(capacity)

	var deviceID [32]byte
	copy(deviceID[:], cfg.DeviceSerial)

	var boundLog alog.Logger
	if logger != nil {
		boundLog = logger.With(alog.DeviceID(deviceID))
	}

	ctx := &Context{
		config:       cfg,
		log:          boundLog,
		deviceID:     deviceID,
		pk:           pk,
		sk:           sk,
		bank:         bank,
		measurements: logEntries,
		collector:    measurement.NewCollector(bank, source, clock, logEntries),
	}

	if ctx.log != nil {
		ctx.log.Info(context.Background(), "attestation context initialized")
	}

	return ctx, nil
}

// Collect runs the collector's default measurement sweep (Firmware,
// Configuration, Runtime, Keys, DeviceIdentity) against this context's PCR
// bank and log.
func (c *Context) Collect() ([]measurement.Measurement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaned {
		return nil, pqcerr.Wrap("attestation.Collect", pqcerr.ErrInvalidParameter)
	}
	got, err := c.collector.CollectAll()
	if err != nil && c.log != nil {
		c.log.Warn(context.Background(), "measurement collection failed", "error", err)
	}
	return got, err
}

// GetPCRs returns a snapshot of the context's PCR bank.
func (c *Context) GetPCRs() [pcr.N][32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bank.Snapshot()
}

// GetLog returns a copy of the context's measurement log contents.
func (c *Context) GetLog() []measurement.Measurement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.measurements.Entries()
}

// PublicKey returns the context's signature public key, for distribution
// to verifiers.
func (c *Context) PublicKey() sig.PublicKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pk
}

// BuildReport snapshots the context's current PCR and log state, signs it
// under the context's keypair, and returns the resulting Report. now is
// the timestamp to embed (seconds since epoch), and src supplies the
// randomness the Fiat-Shamir signing loop needs.
func (c *Context) BuildReport(now uint64, src rng.Source) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaned {
		return Report{}, pqcerr.Wrap("attestation.BuildReport", pqcerr.ErrInvalidParameter)
	}

	snapshot := c.bank.Snapshot()
	entries := c.measurements.Entries()

	// measurement_count reflects the entries actually embedded, so a
	// report this Context produces is always self-consistent against its
	// own MaxMeasurementSlots check in Verify — unlike the reference,
	// whose measurement_count is the full log count even when that
	// exceeds the per-report slot capacity, which can produce a report
	// that is unverifiable the moment it is built.
	count := len(entries)
	if count > MaxMeasurementSlots {
		count = MaxMeasurementSlots
	}

	var report Report
	report.DeviceID = c.deviceID
	report.Timestamp = now
	report.Version = ReportVersion
	report.MeasurementCount = uint32(count)
	report.PCR = snapshot
	for i := 0; i < count; i++ {
		report.Measurements[i] = entries[i]
	}

	d := report.digest()
	signature, err := sig.Sign(c.sk, d[:], src)
	if err != nil {
		return Report{}, pqcerr.Wrap("attestation.BuildReport", err)
	}
	encoded, err := signature.Marshal()
	if err != nil {
		return Report{}, pqcerr.Wrap("attestation.BuildReport", err)
	}
	report.SignatureLength = uint32(len(encoded))
	copy(report.Signature[:], encoded[:])

	if c.log != nil {
		attrs := make([]any, 0, 2+2*pcr.N)
		attrs = append(attrs, "measurement_count", count)
		for i, v := range snapshot {
			a := alog.PCRValue(i, v)
			attrs = append(attrs, a.Key, a.Value.String())
		}
		c.log.Debug(context.Background(), "attestation report built", attrs...)
	}

	return report, nil
}

// Cleanup zeroizes the context's secret key material. The context must not
// be used afterward.
func (c *Context) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.sk.S1 {
		zeroizePoly(c.sk.S1[i][:])
	}
	for i := range c.sk.S2 {
		zeroizePoly(c.sk.S2[i][:])
	}
	for i := range c.sk.T0 {
		zeroizePoly(c.sk.T0[i][:])
	}
	secmem.Zeroize(c.sk.Key[:])
	c.cleaned = true
	if c.log != nil {
		c.log.Info(context.Background(), "attestation context cleaned up")
	}
}

func zeroizePoly(p []uint32) {
	for i := range p {
		p[i] = 0
	}
}
