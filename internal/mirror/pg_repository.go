package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Code,
		&p.System,
		&p.NationalID,
		&p.Name,
		&p.RawPhone,
		&p.BirthDate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanProfessional(row pgx.Row) (*Professional, error) {
	var pr Professional

	err := row.Scan(
		&pr.ID,
		&pr.FullName,
		&pr.DisplayName,
		&pr.Specialty,
		&pr.System,
		&pr.Code,
		&pr.Active,
		&pr.CreatedAt,
		&pr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfessionalNotFound
		}
		return nil, err
	}

	return &pr, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProfessionalID,
		&a.Code,
		&a.System,
		&a.Date,
		&a.SlotTime,
		&a.Status,
		&a.Procedure,
		&a.FirstVisit,
		&a.Notes,
		&a.FollowUpBy,
		&a.Channel,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

const patientCols = `id, code, system, national_id, name, raw_phone, birth_date, created_at, updated_at`
const professionalCols = `id, full_name, display_name, specialty, system, code, active, created_at, updated_at`
const appointmentCols = `id, patient_id, professional_id, code, system, date, slot_time, status, procedure, first_visit, notes, follow_up_by, channel, created_at, updated_at`

// Patients

func (r *PgRepository) GetPatientByID(ctx context.Context, id int64) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientCols+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientByCode(ctx context.Context, code int64, system System) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientCols+`
		FROM patients
		WHERE code = $1 AND system = $2
	`, code, system)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientByNationalID(ctx context.Context, nationalID string, system System) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientCols+`
		FROM patients
		WHERE national_id = $1 AND system = $2
	`, nationalID, system)
	return scanPatient(row)
}

func (r *PgRepository) CreatePatient(ctx context.Context, p *Patient) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (code, system, national_id, name, raw_phone, birth_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+patientCols+`
	`, p.Code, p.System, p.NationalID, p.Name, p.RawPhone, p.BirthDate)
	return scanPatient(row)
}

func (r *PgRepository) UpdatePatient(ctx context.Context, p *Patient) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patients
		SET code = $2,
		    national_id = $3,
		    name = $4,
		    raw_phone = $5,
		    birth_date = $6,
		    updated_at = now()
		WHERE id = $1
	`, p.ID, p.Code, p.NationalID, p.Name, p.RawPhone, p.BirthDate)
	if err != nil {
		return fmt.Errorf("update patient %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *PgRepository) ListPatientsWithCodes(ctx context.Context, system System, offset, limit int) ([]Patient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+patientCols+`
		FROM patients
		WHERE system = $1 AND code IS NOT NULL
		ORDER BY id
		OFFSET $2
		LIMIT $3
	`, system, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Phones

func (r *PgRepository) AddPhoneIfAbsent(ctx context.Context, patientID int64, digits, kind string, principal bool) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO patient_phones (patient_id, digits, kind, principal, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (patient_id, digits) DO NOTHING
	`, patientID, digits, kind, principal)
	if err != nil {
		return false, fmt.Errorf("insert phone for patient %d: %w", patientID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Professionals

// GetOrCreateProfessional inserts through the (display_name, system) unique
// constraint and re-reads when another writer got there first. Specialty is
// unknown when a professional is first seen on a history grid.
func (r *PgRepository) GetOrCreateProfessional(ctx context.Context, displayName string, system System) (*Professional, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+professionalCols+`
		FROM professionals
		WHERE display_name = $1 AND system = $2
	`, displayName, system)
	pr, err := scanProfessional(row)
	if err == nil {
		return pr, nil
	}
	if !errors.Is(err, ErrProfessionalNotFound) {
		return nil, err
	}

	row = r.pool.QueryRow(ctx, `
		INSERT INTO professionals (full_name, display_name, specialty, system, code, active, created_at, updated_at)
		VALUES ($1, $1, '', $2, NULL, true, now(), now())
		ON CONFLICT (display_name, system) DO NOTHING
		RETURNING `+professionalCols+`
	`, displayName, system)
	pr, err = scanProfessional(row)
	if err == nil {
		return pr, nil
	}
	if !errors.Is(err, ErrProfessionalNotFound) {
		return nil, err
	}

	// Lost the race, the row exists now.
	row = r.pool.QueryRow(ctx, `
		SELECT `+professionalCols+`
		FROM professionals
		WHERE display_name = $1 AND system = $2
	`, displayName, system)
	return scanProfessional(row)
}

// Appointments

func (r *PgRepository) GetAppointmentByPatientDateTime(ctx context.Context, patientID int64, date time.Time, slotTime string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE patient_id = $1 AND date = $2 AND slot_time = $3
	`, patientID, date, slotTime)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByCode(ctx context.Context, code int64, system System) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE code = $1 AND system = $2
	`, code, system)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, professional_id, code, system, date, slot_time, status, procedure, first_visit, notes, follow_up_by, channel, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+appointmentCols+`
	`, a.PatientID, a.ProfessionalID, a.Code, a.System, a.Date, a.SlotTime,
		a.Status, a.Procedure, a.FirstVisit, a.Notes, a.FollowUpBy, a.Channel)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET patient_id = $2,
		    professional_id = $3,
		    code = $4,
		    status = $5,
		    procedure = $6,
		    first_visit = $7,
		    notes = $8,
		    follow_up_by = $9,
		    updated_at = now()
		WHERE id = $1
	`, a.ID, a.PatientID, a.ProfessionalID, a.Code, a.Status, a.Procedure,
		a.FirstVisit, a.Notes, a.FollowUpBy)
	if err != nil {
		return fmt.Errorf("update appointment %d: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// Sync support

func (r *PgRepository) ListRecentPatientIDs(ctx context.Context, since time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT patient_id
		FROM appointments
		WHERE patient_id IS NOT NULL AND date >= $1
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}
