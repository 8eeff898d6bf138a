package mirror

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrProfessionalNotFound = errors.New("professional not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
)

// Repository contains all mirror-store interactions needed by the
// reconciliation engine and the job runners.
type Repository interface {
	// Patients
	GetPatientByID(ctx context.Context, id int64) (*Patient, error)
	GetPatientByCode(ctx context.Context, code int64, system System) (*Patient, error)
	GetPatientByNationalID(ctx context.Context, nationalID string, system System) (*Patient, error)
	CreatePatient(ctx context.Context, p *Patient) (*Patient, error)
	UpdatePatient(ctx context.Context, p *Patient) error
	ListPatientsWithCodes(ctx context.Context, system System, offset, limit int) ([]Patient, error)

	// Phones
	AddPhoneIfAbsent(ctx context.Context, patientID int64, digits, kind string, principal bool) (bool, error)

	// Professionals. GetOrCreateProfessional must be safe under concurrent
	// first observations of the same (name, system): it relies on the unique
	// constraint plus a re-read on conflict, never on read-then-insert alone.
	GetOrCreateProfessional(ctx context.Context, displayName string, system System) (*Professional, error)

	// Appointments, by both natural keys.
	GetAppointmentByPatientDateTime(ctx context.Context, patientID int64, date time.Time, slotTime string) (*Appointment, error)
	GetAppointmentByCode(ctx context.Context, code int64, system System) (*Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment) error

	// Sync support
	ListRecentPatientIDs(ctx context.Context, since time.Time) ([]int64, error)
}
