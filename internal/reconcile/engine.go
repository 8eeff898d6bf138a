package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/mirror"
)

// Stats summarizes one reconciliation pass. A pass never aborts on a bad
// record; whatever could not be processed lands in Errors and the rest of the
// batch still goes through.
type Stats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

func (s *Stats) Merge(o Stats) {
	s.Added += o.Added
	s.Updated += o.Updated
	s.Skipped += o.Skipped
	s.Errors += o.Errors
}

// HistoryRecord is one filtered row of a patient's history grid, still in the
// portal's raw string forms.
type HistoryRecord struct {
	Professional string
	Date         string // dd/mm/yyyy
	Time         string // HH:MM or HH:MM:SS
	Kind         string
	FollowUpBy   string // dd/mm/yyyy, may be empty
}

// UpcomingRecord is one parsed row of the upcoming-appointments report. This
// source carries a stable portal code per occurrence, so it reconciles by
// (code, system) rather than (patient, date, time).
type UpcomingRecord struct {
	Code         int64
	PatientName  string
	BirthDate    string
	Phone        string
	Professional string
	Specialty    string
	Date         string
	Time         string
	Status       string
	Procedure    string
	FirstVisit   bool
	Notes        string
}

// PatientRecord is one parsed row of the active-patients export.
type PatientRecord struct {
	Code       int64
	Name       string
	Phone      string
	NationalID string
	BirthDate  string
}

// Engine merges externally observed records into the mirror: insert if
// absent, update if a mutable field changed, skip otherwise. Re-running an
// unchanged snapshot must produce Added=0, Updated=0.
type Engine struct {
	repo mirror.Repository
	log  *zap.Logger
}

func NewEngine(repo mirror.Repository, log *zap.Logger) *Engine {
	return &Engine{repo: repo, log: log}
}

// ReconcileHistory merges history rows for one resolved patient. Natural key:
// (patient, date, slot time). Mutable fields: procedure and follow-up date.
func (e *Engine) ReconcileHistory(ctx context.Context, patient *mirror.Patient, recs []HistoryRecord) Stats {
	var stats Stats

	for _, rec := range recs {
		if err := e.reconcileHistoryRecord(ctx, patient, rec, &stats); err != nil {
			stats.Errors++
			e.log.Warn("history record rejected",
				zap.Int64("patient_id", patient.ID),
				zap.String("date", rec.Date),
				zap.String("time", rec.Time),
				zap.Error(err))
		}
	}

	return stats
}

func (e *Engine) reconcileHistoryRecord(ctx context.Context, patient *mirror.Patient, rec HistoryRecord, stats *Stats) error {
	date, err := ParseDate(rec.Date)
	if err != nil {
		return err
	}
	slot, err := ParseSlotTime(rec.Time)
	if err != nil {
		return err
	}

	var followUp *time.Time
	if rec.FollowUpBy != "" {
		if d, err := ParseDate(rec.FollowUpBy); err == nil {
			followUp = &d
		}
		// An unparsable follow-up date is dropped, not fatal to the row.
	}

	var profID *int64
	if rec.Professional != "" {
		prof, err := e.repo.GetOrCreateProfessional(ctx, rec.Professional, patient.System)
		if err != nil {
			return err
		}
		profID = &prof.ID
	}

	existing, err := e.repo.GetAppointmentByPatientDateTime(ctx, patient.ID, date, slot)
	if err != nil && !errors.Is(err, mirror.ErrAppointmentNotFound) {
		return err
	}

	if existing == nil {
		pid := patient.ID
		_, err := e.repo.CreateAppointment(ctx, &mirror.Appointment{
			PatientID:      &pid,
			ProfessionalID: profID,
			System:         patient.System,
			Date:           date,
			SlotTime:       slot,
			Status:         mirror.StatusCompleted,
			Procedure:      rec.Kind,
			FollowUpBy:     followUp,
			Channel:        "portal_sync",
		})
		if err != nil {
			return err
		}
		stats.Added++
		return nil
	}

	changed := false
	if rec.Kind != "" && existing.Procedure != rec.Kind {
		e.log.Info("procedure diverged, taking last observed",
			zap.Int64("appointment_id", existing.ID),
			zap.String("was", existing.Procedure),
			zap.String("now", rec.Kind))
		existing.Procedure = rec.Kind
		changed = true
	}
	if followUp != nil && !equalDate(existing.FollowUpBy, followUp) {
		existing.FollowUpBy = followUp
		changed = true
	}

	if !changed {
		stats.Skipped++
		return nil
	}

	if err := e.repo.UpdateAppointment(ctx, existing); err != nil {
		return err
	}
	stats.Updated++
	return nil
}

// ReconcileUpcoming merges the upcoming-appointments report for one system.
// Natural key: (code, system). When a record has no mirrored code yet but its
// patient already holds an appointment at the same (date, slot) from the
// history path, that row is claimed and tagged with the code instead of
// inserting a duplicate.
func (e *Engine) ReconcileUpcoming(ctx context.Context, system mirror.System, recs []UpcomingRecord) Stats {
	var stats Stats

	for _, rec := range recs {
		if err := e.reconcileUpcomingRecord(ctx, system, rec, &stats); err != nil {
			stats.Errors++
			e.log.Warn("upcoming record rejected",
				zap.Int64("code", rec.Code),
				zap.String("date", rec.Date),
				zap.Error(err))
		}
	}

	return stats
}

func (e *Engine) reconcileUpcomingRecord(ctx context.Context, system mirror.System, rec UpcomingRecord, stats *Stats) error {
	date, err := ParseDate(rec.Date)
	if err != nil {
		return err
	}
	slot, err := ParseSlotTime(rec.Time)
	if err != nil {
		return err
	}

	var patientID *int64
	patient, err := e.repo.GetPatientByCode(ctx, rec.Code, system)
	if err != nil && !errors.Is(err, mirror.ErrPatientNotFound) {
		return err
	}
	if patient != nil {
		patientID = &patient.ID
	}

	var profID *int64
	if rec.Professional != "" {
		prof, err := e.repo.GetOrCreateProfessional(ctx, rec.Professional, system)
		if err != nil {
			return err
		}
		profID = &prof.ID
	}

	status := mapStatus(rec.Status)

	existing, err := e.repo.GetAppointmentByCode(ctx, rec.Code, system)
	if err != nil && !errors.Is(err, mirror.ErrAppointmentNotFound) {
		return err
	}

	if existing == nil && patientID != nil {
		// Secondary dedupe across ingestion paths.
		existing, err = e.repo.GetAppointmentByPatientDateTime(ctx, *patientID, date, slot)
		if err != nil && !errors.Is(err, mirror.ErrAppointmentNotFound) {
			return err
		}
		if existing != nil && existing.Code == nil {
			code := rec.Code
			existing.Code = &code
			existing.Status = status
			existing.Procedure = rec.Procedure
			existing.FirstVisit = rec.FirstVisit
			if err := e.repo.UpdateAppointment(ctx, existing); err != nil {
				return err
			}
			stats.Updated++
			return nil
		}
	}

	if existing == nil {
		code := rec.Code
		_, err := e.repo.CreateAppointment(ctx, &mirror.Appointment{
			PatientID:      patientID,
			ProfessionalID: profID,
			Code:           &code,
			System:         system,
			Date:           date,
			SlotTime:       slot,
			Status:         status,
			Procedure:      rec.Procedure,
			FirstVisit:     rec.FirstVisit,
			Notes:          rec.Notes,
			Channel:        "portal_sync",
		})
		if err != nil {
			return err
		}
		stats.Added++
		return nil
	}

	changed := false
	if existing.Status != status {
		existing.Status = status
		changed = true
	}
	if rec.Procedure != "" && existing.Procedure != rec.Procedure {
		existing.Procedure = rec.Procedure
		changed = true
	}
	if existing.FirstVisit != rec.FirstVisit {
		existing.FirstVisit = rec.FirstVisit
		changed = true
	}
	if existing.PatientID == nil && patientID != nil {
		existing.PatientID = patientID
		changed = true
	}

	if !changed {
		stats.Skipped++
		return nil
	}

	if err := e.repo.UpdateAppointment(ctx, existing); err != nil {
		return err
	}
	stats.Updated++
	return nil
}

// ReconcilePatients merges the active-patients export for one system.
// Natural key: (code, system). Patients are never deleted here.
func (e *Engine) ReconcilePatients(ctx context.Context, system mirror.System, recs []PatientRecord) Stats {
	var stats Stats

	for _, rec := range recs {
		if err := e.reconcilePatientRecord(ctx, system, rec, &stats); err != nil {
			stats.Errors++
			e.log.Warn("patient record rejected",
				zap.Int64("code", rec.Code),
				zap.Error(err))
		}
	}

	return stats
}

func (e *Engine) reconcilePatientRecord(ctx context.Context, system mirror.System, rec PatientRecord, stats *Stats) error {
	var birth *time.Time
	if rec.BirthDate != "" {
		if d, err := ParseDate(rec.BirthDate); err == nil {
			birth = &d
		}
	}
	digits := NormalizeDigits(rec.Phone)

	existing, err := e.repo.GetPatientByCode(ctx, rec.Code, system)
	if err != nil && !errors.Is(err, mirror.ErrPatientNotFound) {
		return err
	}

	if existing == nil {
		code := rec.Code
		created, err := e.repo.CreatePatient(ctx, &mirror.Patient{
			Code:       &code,
			System:     system,
			NationalID: NormalizeDigits(rec.NationalID),
			Name:       rec.Name,
			RawPhone:   rec.Phone,
			BirthDate:  birth,
		})
		if err != nil {
			return err
		}
		if digits != "" {
			if _, err := e.repo.AddPhoneIfAbsent(ctx, created.ID, digits, "whatsapp", true); err != nil {
				return err
			}
		}
		stats.Added++
		return nil
	}

	changed := false
	if rec.Name != "" && existing.Name != rec.Name {
		existing.Name = rec.Name
		changed = true
	}
	if rec.Phone != "" && existing.RawPhone != rec.Phone {
		existing.RawPhone = rec.Phone
		changed = true
	}
	if birth != nil && !equalDate(existing.BirthDate, birth) {
		existing.BirthDate = birth
		changed = true
	}
	if nid := NormalizeDigits(rec.NationalID); nid != "" && existing.NationalID == "" {
		existing.NationalID = nid
		changed = true
	}

	if digits != "" {
		if _, err := e.repo.AddPhoneIfAbsent(ctx, existing.ID, digits, "whatsapp", false); err != nil {
			return err
		}
	}

	if !changed {
		stats.Skipped++
		return nil
	}

	if err := e.repo.UpdatePatient(ctx, existing); err != nil {
		return err
	}
	stats.Updated++
	return nil
}

func mapStatus(s string) mirror.AppointmentStatus {
	switch l := strings.ToLower(strings.TrimSpace(s)); {
	case strings.Contains(l, "cancel"):
		return mirror.StatusCancelled
	case strings.Contains(l, "done"), strings.Contains(l, "complete"), strings.Contains(l, "attended"):
		return mirror.StatusCompleted
	default:
		return mirror.StatusScheduled
	}
}

func equalDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
