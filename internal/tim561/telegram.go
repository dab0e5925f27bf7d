package tim561

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Decode error kinds. Each decode failure wraps exactly one of these so the
// acquisition loop can classify without string matching.
var (
	ErrMalformed         = errors.New("malformed telegram")
	ErrChecksumMismatch  = errors.New("telegram checksum mismatch")
	ErrUnsupportedStatus = errors.New("unsupported device status")
	// ErrNotScanData marks telegrams that are structurally fine but are not
	// LMDscandata measurements (command acks, replies). It is a Malformed
	// sub-kind so callers matching ErrMalformed still drop the frame, but
	// the loop can skip diagnostics for it since acks are expected traffic.
	ErrNotScanData = fmt.Errorf("not a scan data telegram: %w", ErrMalformed)
)

// CoLa-A LMDscandata header layout. Fields are space-delimited ASCII;
// numbers are hexadecimal unless prefixed with an explicit +/- sign.
const (
	idxTypeOfCommand    = 0  // "sSN" for streamed scan data
	idxCommand          = 1  // "LMDscandata"
	idxVersion          = 2
	idxDeviceNumber     = 3
	idxSerialNumber     = 4
	idxDeviceStatus1    = 5
	idxDeviceStatus2    = 6
	idxTelegramCounter  = 7
	idxScanCounter      = 8
	idxTimeSinceStartup = 9
	idxTimeOfTransmit   = 10
	idxScanFrequency    = 16 // 1/100 Hz
	idxMeasFrequency    = 17
	idxNumEncoders      = 18
	idx16BitChannels    = 19
	idxChannelContent   = 20 // "DIST1"
	idxScaleFactor      = 21 // IEEE-754 float32 bits when hex
	idxScaleOffset      = 22
	idxStartAngle       = 23 // 1/10000 degree, signed 32-bit
	idxAngularStep      = 24 // 1/10000 degree
	idxDataCount        = 25
	idxDataStart        = 26

	headerFieldCount = 26
)

// DecoderConfig controls telegram validation policy.
type DecoderConfig struct {
	// VerifyChecksum expects a trailing XOR checksum field (two hex digits
	// over the payload up to the final separator) and rejects telegrams
	// that fail it. Off by default; the TiM5xx stream does not carry one
	// unless the device is provisioned to append it.
	VerifyChecksum bool

	// AllowPollutionWarning accepts frames from a sensor reporting optics
	// contamination instead of dropping them. The frame status carries the
	// warning either way so consumers can surface it.
	AllowPollutionWarning bool
}

// Decoder turns raw CoLa-A telegram payloads into ScanFrames. Safe for use
// from a single goroutine (the acquisition loop); the angle table cache is
// not locked.
type Decoder struct {
	cfg DecoderConfig
	now func() time.Time

	// Angle table cache. A healthy sensor emits identical geometry every
	// sweep, so one entry suffices.
	angleStart float64
	angleStep  float64
	angleTable []float64
}

// NewDecoder creates a Decoder with the given validation policy.
func NewDecoder(cfg DecoderConfig) *Decoder {
	return &Decoder{cfg: cfg, now: time.Now}
}

// Decode parses one telegram payload (STX/ETX already stripped) into a
// ScanFrame. The frame timestamp is assigned at receipt. Failures wrap one
// of ErrMalformed, ErrChecksumMismatch or ErrUnsupportedStatus; Decode
// never panics on hostile input.
func (d *Decoder) Decode(payload []byte) (*ScanFrame, error) {
	fields := bytes.Split(payload, []byte{' '})

	if d.cfg.VerifyChecksum {
		var err error
		if fields, err = verifyChecksum(payload, fields); err != nil {
			return nil, err
		}
	}

	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: %d fields", ErrMalformed, len(fields))
	}
	// Type check before the size check: command acks (sEA) are legitimate
	// short telegrams on the same stream.
	if string(fields[idxTypeOfCommand]) != "sSN" || string(fields[idxCommand]) != "LMDscandata" {
		return nil, fmt.Errorf("%w (%s %s)", ErrNotScanData, fields[idxTypeOfCommand], fields[idxCommand])
	}
	if len(fields) < headerFieldCount {
		return nil, fmt.Errorf("%w: %d header fields, want at least %d", ErrMalformed, len(fields), headerFieldCount)
	}

	status, err := d.deviceStatus(fields)
	if err != nil {
		return nil, err
	}

	telegramCounter, err := parseNumber(fields[idxTelegramCounter])
	if err != nil {
		return nil, fmt.Errorf("%w: telegram counter: %v", ErrMalformed, err)
	}
	scanCounter, err := parseNumber(fields[idxScanCounter])
	if err != nil {
		return nil, fmt.Errorf("%w: scan counter: %v", ErrMalformed, err)
	}
	uptime, err := parseNumber(fields[idxTimeSinceStartup])
	if err != nil {
		return nil, fmt.Errorf("%w: time since startup: %v", ErrMalformed, err)
	}
	scanFreq, err := parseNumber(fields[idxScanFrequency])
	if err != nil {
		return nil, fmt.Errorf("%w: scan frequency: %v", ErrMalformed, err)
	}

	if content := string(fields[idxChannelContent]); content != "DIST1" {
		return nil, fmt.Errorf("%w: unsupported channel content %q", ErrMalformed, content)
	}
	scale, err := parseScale(fields[idxScaleFactor])
	if err != nil {
		return nil, fmt.Errorf("%w: scale factor: %v", ErrMalformed, err)
	}
	offset, err := parseScale(fields[idxScaleOffset])
	if err != nil {
		return nil, fmt.Errorf("%w: scale offset: %v", ErrMalformed, err)
	}

	startRaw, err := parseNumber(fields[idxStartAngle])
	if err != nil {
		return nil, fmt.Errorf("%w: start angle: %v", ErrMalformed, err)
	}
	stepRaw, err := parseNumber(fields[idxAngularStep])
	if err != nil {
		return nil, fmt.Errorf("%w: angular step: %v", ErrMalformed, err)
	}
	count, err := parseNumber(fields[idxDataCount])
	if err != nil {
		return nil, fmt.Errorf("%w: data count: %v", ErrMalformed, err)
	}

	// Start angle is a signed 1/10000-degree value transmitted as 32-bit
	// two's complement when hex encoded.
	startAngle := float64(int32(uint32(startRaw))) / 10000.0
	stepAngle := float64(stepRaw) / 10000.0

	if count <= 0 || count > 1<<14 {
		return nil, fmt.Errorf("%w: implausible data count %d", ErrMalformed, count)
	}
	if stepAngle <= 0 {
		return nil, fmt.Errorf("%w: non-positive angular step", ErrMalformed)
	}
	if len(fields) < idxDataStart+int(count) {
		return nil, fmt.Errorf("%w: truncated data array: %d fields for %d samples", ErrMalformed, len(fields)-idxDataStart, count)
	}

	angles := d.angles(startAngle, stepAngle, int(count))
	points := make([]ScanPoint, count)
	for i := 0; i < int(count); i++ {
		raw, err := parseNumber(fields[idxDataStart+i])
		if err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", ErrMalformed, i, err)
		}
		distance := float64(raw)*scale + offset
		points[i] = ScanPoint{
			AngleDeg:   angles[i],
			DistanceMM: distance,
			Valid:      raw != 0,
		}
	}

	return &ScanFrame{
		Timestamp:        d.now(),
		Status:           status,
		TelegramCounter:  uint32(telegramCounter),
		ScanCounter:      uint32(scanCounter),
		TimeSinceStartup: uint32(uptime),
		ScanFrequencyHz:  float64(scanFreq) / 100.0,
		StartAngleDeg:    startAngle,
		AngularStepDeg:   stepAngle,
		Points:           points,
	}, nil
}

// deviceStatus maps the two status words to a DeviceStatus and applies the
// acceptance policy. Non-OK statuses other than a tolerated pollution
// warning reject the frame; the sensor keeps streaming, so recovery is
// simply waiting for it to report healthy again.
func (d *Decoder) deviceStatus(fields [][]byte) (DeviceStatus, error) {
	w1, err := parseNumber(fields[idxDeviceStatus1])
	if err != nil {
		return StatusError, fmt.Errorf("%w: device status: %v", ErrMalformed, err)
	}
	w2, err := parseNumber(fields[idxDeviceStatus2])
	if err != nil {
		return StatusError, fmt.Errorf("%w: device status: %v", ErrMalformed, err)
	}

	var status DeviceStatus
	switch {
	case w1 == 0 && w2 == 0:
		status = StatusOK
	case w1 == 2 || w2 == 2:
		status = StatusPollutionWarning
	case w1 == 3 || w2 == 3:
		status = StatusPollutionError
	default:
		status = StatusError
	}

	switch status {
	case StatusOK:
		return status, nil
	case StatusPollutionWarning:
		if d.cfg.AllowPollutionWarning {
			return status, nil
		}
	}
	return status, fmt.Errorf("%w: device reports %s (%d %d)", ErrUnsupportedStatus, status, w1, w2)
}

// angles returns the angle table for the given geometry, recomputing it
// only when the sensor geometry changes.
func (d *Decoder) angles(start, step float64, count int) []float64 {
	if len(d.angleTable) == count && d.angleStart == start && d.angleStep == step {
		return d.angleTable
	}
	table := make([]float64, count)
	if count == 1 {
		table[0] = start
	} else {
		floats.Span(table, start, start+step*float64(count-1))
	}
	d.angleStart, d.angleStep, d.angleTable = start, step, table
	return table
}

// parseNumber parses a CoLa-A number: decimal when it carries an explicit
// +/- sign, hexadecimal otherwise.
func parseNumber(field []byte) (int64, error) {
	s := string(field)
	if s == "" {
		return 0, fmt.Errorf("empty field")
	}
	if s[0] == '+' || s[0] == '-' {
		return strconv.ParseInt(s, 10, 64)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// parseScale parses the scaling fields, which the sensor transmits as the
// raw bit pattern of an IEEE-754 float32 (3F800000 = 1.0) when hex encoded.
func parseScale(field []byte) (float64, error) {
	v, err := parseNumber(field)
	if err != nil {
		return 0, err
	}
	s := string(field)
	if s[0] == '+' || s[0] == '-' {
		return float64(v), nil
	}
	f := math.Float32frombits(uint32(v))
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return 0, fmt.Errorf("non-finite scale %q", s)
	}
	return float64(f), nil
}

// verifyChecksum validates and strips the trailing checksum field: two hex
// digits holding the XOR of every payload byte up to the final separator.
func verifyChecksum(payload []byte, fields [][]byte) ([][]byte, error) {
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: no checksum field", ErrChecksumMismatch)
	}
	last := fields[len(fields)-1]
	if len(last) != 2 {
		return nil, fmt.Errorf("%w: checksum field %q", ErrChecksumMismatch, last)
	}
	want, err := strconv.ParseUint(string(last), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: checksum field %q", ErrChecksumMismatch, last)
	}
	var got byte
	for _, b := range payload[:len(payload)-len(last)-1] {
		got ^= b
	}
	if got != byte(want) {
		return nil, fmt.Errorf("%w: computed %02X, telegram says %02X", ErrChecksumMismatch, got, want)
	}
	return fields[:len(fields)-1], nil
}
