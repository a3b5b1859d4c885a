// Package scanner runs scans for physical scanning devices. Each device
// owns its selected section and evaluates at most one scan at a time.
package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"qrattendance/internal/attendance"
	"qrattendance/internal/audit"
	"qrattendance/internal/metrics"
	"qrattendance/internal/qrpayload"
	"qrattendance/internal/section"
)

var (
	// ErrUnknownSection is returned when selecting a section that does not exist.
	ErrUnknownSection = errors.New("unknown section")
	// ErrBusy is returned by Logout while the device is handling a scan.
	ErrBusy = errors.New("device busy")
)

// Decision labels used in the audit log for non-engine outcomes.
const (
	eventInvalidPayload = "invalid_payload"
	eventStoreError     = "store_unavailable"
)

// SectionStore remembers a device's selected section across restarts.
type SectionStore interface {
	SaveSection(ctx context.Context, deviceID string, s section.Section) error
	LoadSection(ctx context.Context, deviceID string) (*section.Section, error)
	ClearSection(ctx context.Context, deviceID string) error
}

// Listener is told about every decision a device produces.
type Listener func(deviceID string, d attendance.Decision)

// Device is one scanner.
type Device struct {
	id      string
	section section.Context
	busy    sync.Mutex

	engine    *attendance.Engine
	directory attendance.Directory
	sections  SectionStore
	publisher *audit.Publisher
	metrics   *metrics.Metrics
	listener  Listener
	logger    *zap.Logger
}

// ID returns the device id.
func (d *Device) ID() string { return d.id }

// SelectSection makes sectionID the device's current section.
func (d *Device) SelectSection(ctx context.Context, sectionID string) (section.Section, error) {
	sec, err := d.directory.GetSection(ctx, sectionID)
	if err != nil {
		return section.Section{}, errors.Join(attendance.ErrStoreUnavailable, err)
	}
	if sec == nil {
		return section.Section{}, ErrUnknownSection
	}
	d.section.Select(*sec)
	if d.sections != nil {
		if err := d.sections.SaveSection(ctx, d.id, *sec); err != nil {
			d.logger.Warn("persist device section", zap.String("device_id", d.id), zap.Error(err))
		}
	}
	d.logger.Info("section selected", zap.String("device_id", d.id), zap.String("section_id", sec.ID))
	return *sec, nil
}

// ClearSection deselects the device's section.
func (d *Device) ClearSection(ctx context.Context) {
	d.section.Clear()
	if d.sections != nil {
		if err := d.sections.ClearSection(ctx, d.id); err != nil {
			d.logger.Warn("clear device section", zap.String("device_id", d.id), zap.Error(err))
		}
	}
}

// CurrentSection returns the selected section, if any.
func (d *Device) CurrentSection() (section.Section, bool) {
	return d.section.Current()
}

// Scan parses raw and evaluates it against the current section. A scan that
// arrives while another is in flight on this device is dropped with Busy.
// Parse and validation failures are returned as errors from qrpayload.
func (d *Device) Scan(ctx context.Context, raw string, now time.Time) (attendance.Decision, error) {
	if !d.busy.TryLock() {
		dec := attendance.Decision{Kind: attendance.Busy}
		d.metrics.ObserveScan(dec.Kind.String(), 0)
		d.emit(ctx, dec, "", "", now)
		return dec, nil
	}
	defer d.busy.Unlock()
	defer d.metrics.Begin()()
	start := time.Now()

	payload, err := qrpayload.Parse(raw)
	if err != nil {
		d.metrics.ObserveScan(eventInvalidPayload, time.Since(start))
		d.publish(ctx, attendance.ScanEvent{DeviceID: d.id, Decision: eventInvalidPayload, Detail: err.Error(), OccurredAt: now.UTC()})
		return attendance.Decision{}, err
	}

	var sec *section.Section
	if cur, ok := d.section.Current(); ok {
		sec = &cur
	}
	dec, err := d.engine.Evaluate(ctx, payload, sec, now)
	if err != nil {
		d.metrics.ObserveScan(eventStoreError, time.Since(start))
		d.logger.Error("evaluate scan", zap.String("device_id", d.id), zap.String("student_id", payload.StudentID), zap.Error(err))
		d.publish(ctx, attendance.ScanEvent{
			DeviceID: d.id, StudentID: payload.StudentID, FullName: payload.FullName,
			SectionID: sectionID(sec), Decision: eventStoreError, Detail: err.Error(), OccurredAt: now.UTC(),
		})
		return attendance.Decision{}, err
	}
	d.metrics.ObserveScan(dec.Kind.String(), time.Since(start))
	d.emit(ctx, dec, payload.FullName, sectionID(sec), now)
	return dec, nil
}

// Logout ends a session. It shares the in-flight guard with Scan.
func (d *Device) Logout(ctx context.Context, sessionID string, now time.Time, cooldownFor time.Duration) (attendance.LogoutResult, error) {
	if !d.busy.TryLock() {
		return attendance.LogoutResult{}, ErrBusy
	}
	defer d.busy.Unlock()

	res, err := d.engine.Logout(ctx, sessionID, now, cooldownFor)
	if err != nil {
		return res, err
	}
	d.metrics.ObserveLogout(res.Outcome.String())
	d.publish(ctx, attendance.ScanEvent{
		DeviceID:   d.id,
		StudentID:  res.Session.StudentID,
		SectionID:  res.Session.SectionID,
		Decision:   "logout_" + res.Outcome.String(),
		OccurredAt: now.UTC(),
	})
	return res, nil
}

func (d *Device) emit(ctx context.Context, dec attendance.Decision, fullName, secID string, now time.Time) {
	if secID == "" {
		secID = dec.SectionID
	}
	d.publish(ctx, attendance.ScanEvent{
		DeviceID:   d.id,
		StudentID:  dec.StudentID,
		FullName:   fullName,
		SectionID:  secID,
		Decision:   dec.Kind.String(),
		Detail:     dec.Message(),
		OccurredAt: now.UTC(),
	})
	if d.listener != nil {
		d.listener(d.id, dec)
	}
}

func (d *Device) publish(ctx context.Context, evt attendance.ScanEvent) {
	d.publisher.Publish(ctx, evt)
}

func sectionID(s *section.Section) string {
	if s == nil {
		return ""
	}
	return s.ID
}
