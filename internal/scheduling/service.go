package scheduling

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/mirror"
	"github.com/clinicops/portal-sync/internal/portal"
)

var (
	// ErrSlotUnavailable means the portal showed the requested slot taken or
	// absent at mutation time. Callers holding the lock see this instead of a
	// double booking.
	ErrSlotUnavailable = errors.New("requested slot is not available")
)

type ScheduleRequest struct {
	System       mirror.System
	Professional string
	Date         string // dd/mm/yyyy
	SlotTime     string // HH:MM, empty means first free slot that day
	PatientName  string
	NationalID   string
	Phone        string
	BirthDate    string
	Kind         string
	Insurance    string
}

type ScheduleResult struct {
	SlotTime string `json:"slot_time"`
	Code     int64  `json:"code,omitempty"`
}

type CancelRequest struct {
	System       mirror.System
	Professional string
	Date         string
	SlotTime     string
	PatientName  string
}

type AvailabilityRequest struct {
	System       mirror.System
	Professional string
	Date         string
	SlotTime     string
	From         string
	To           string
}

// Service performs calendar mutations against the portal. Every operation
// opens its own session; the browser behind it belongs to the calling job
// alone. Callers serialize conflicting requests through the lock manager
// before getting here.
type Service struct {
	drivers portal.DriverFactory
	log     *zap.Logger
}

func NewService(drivers portal.DriverFactory, log *zap.Logger) *Service {
	return &Service{drivers: drivers, log: log}
}

// Schedule books a slot. The slot is re-checked inside the critical section:
// the lease-expiry window can let a second holder in, and probing external
// state before mutating keeps that window harmless.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	sess := portal.NewSession(s.drivers(), s.log)

	if err := sess.EnsureAuthenticated(ctx, req.System); err != nil {
		return nil, err
	}
	if err := sess.EnsureOnScreen(ctx, portal.ScreenSchedule); err != nil {
		return nil, err
	}

	drv := sess.Driver()

	avail, err := drv.CheckSlot(ctx, portal.AvailabilityQuery{
		Professional: req.Professional,
		Date:         req.Date,
		SlotTime:     req.SlotTime,
	})
	if err != nil {
		return nil, fmt.Errorf("probe slot: %w", err)
	}
	if avail.NoClinicDay || !avail.Available {
		return nil, ErrSlotUnavailable
	}

	res, err := drv.Schedule(ctx, portal.ScheduleRequest{
		Professional: req.Professional,
		Date:         req.Date,
		SlotTime:     req.SlotTime,
		PatientName:  req.PatientName,
		NationalID:   req.NationalID,
		Phone:        req.Phone,
		BirthDate:    req.BirthDate,
		Kind:         req.Kind,
		Insurance:    req.Insurance,
	})
	if err != nil {
		return nil, fmt.Errorf("schedule on portal: %w", err)
	}

	s.log.Info("appointment scheduled",
		zap.String("system", string(req.System)),
		zap.String("professional", req.Professional),
		zap.String("date", req.Date),
		zap.String("slot", res.SlotTime))

	return &ScheduleResult{SlotTime: res.SlotTime, Code: res.Code}, nil
}

func (s *Service) Cancel(ctx context.Context, req CancelRequest) error {
	sess := portal.NewSession(s.drivers(), s.log)

	if err := sess.EnsureAuthenticated(ctx, req.System); err != nil {
		return err
	}
	if err := sess.EnsureOnScreen(ctx, portal.ScreenSchedule); err != nil {
		return err
	}

	if err := sess.Driver().Cancel(ctx, portal.CancelRequest{
		Professional: req.Professional,
		Date:         req.Date,
		SlotTime:     req.SlotTime,
		PatientName:  req.PatientName,
	}); err != nil {
		return fmt.Errorf("cancel on portal: %w", err)
	}

	s.log.Info("appointment cancelled",
		zap.String("system", string(req.System)),
		zap.String("professional", req.Professional),
		zap.String("date", req.Date),
		zap.String("slot", req.SlotTime))

	return nil
}

// CheckAvailability is read-only; unavailable and no-clinic-day are results,
// not errors.
func (s *Service) CheckAvailability(ctx context.Context, req AvailabilityRequest) (*portal.Availability, error) {
	sess := portal.NewSession(s.drivers(), s.log)

	if err := sess.EnsureAuthenticated(ctx, req.System); err != nil {
		return nil, err
	}
	if err := sess.EnsureOnScreen(ctx, portal.ScreenSchedule); err != nil {
		return nil, err
	}

	avail, err := sess.Driver().CheckSlot(ctx, portal.AvailabilityQuery{
		Professional: req.Professional,
		Date:         req.Date,
		SlotTime:     req.SlotTime,
		From:         req.From,
		To:           req.To,
	})
	if err != nil {
		return nil, fmt.Errorf("check slot: %w", err)
	}

	return &avail, nil
}
