// Package mirrortest provides an in-memory Repository for tests that need
// mirror semantics without Postgres.
package mirrortest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clinicops/portal-sync/internal/mirror"
)

type MemRepository struct {
	mu sync.Mutex

	nextID        int64
	Patients      map[int64]*mirror.Patient
	Phones        map[string]*mirror.Phone // key: patientID|digits
	Professionals map[string]*mirror.Professional
	Appointments  map[int64]*mirror.Appointment
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		Patients:      make(map[int64]*mirror.Patient),
		Phones:        make(map[string]*mirror.Phone),
		Professionals: make(map[string]*mirror.Professional),
		Appointments:  make(map[int64]*mirror.Appointment),
	}
}

func (r *MemRepository) id() int64 {
	r.nextID++
	return r.nextID
}

func phoneKey(patientID int64, digits string) string {
	return fmt.Sprintf("%d|%s", patientID, digits)
}

func profKey(displayName string, system mirror.System) string {
	return displayName + "|" + string(system)
}

// Patients

func (r *MemRepository) GetPatientByID(_ context.Context, id int64) (*mirror.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Patients[id]
	if !ok {
		return nil, mirror.ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemRepository) GetPatientByCode(_ context.Context, code int64, system mirror.System) (*mirror.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.Patients {
		if p.Code != nil && *p.Code == code && p.System == system {
			cp := *p
			return &cp, nil
		}
	}
	return nil, mirror.ErrPatientNotFound
}

func (r *MemRepository) GetPatientByNationalID(_ context.Context, nationalID string, system mirror.System) (*mirror.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.Patients {
		if p.NationalID == nationalID && p.System == system {
			cp := *p
			return &cp, nil
		}
	}
	return nil, mirror.ErrPatientNotFound
}

func (r *MemRepository) CreatePatient(_ context.Context, p *mirror.Patient) (*mirror.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	cp.ID = r.id()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.Patients[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *MemRepository) UpdatePatient(_ context.Context, p *mirror.Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Patients[p.ID]; !ok {
		return mirror.ErrPatientNotFound
	}
	cp := *p
	cp.UpdatedAt = time.Now()
	r.Patients[p.ID] = &cp
	return nil
}

func (r *MemRepository) ListPatientsWithCodes(_ context.Context, system mirror.System, offset, limit int) ([]mirror.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []mirror.Patient
	for id := int64(1); id <= r.nextID; id++ {
		p, ok := r.Patients[id]
		if ok && p.System == system && p.Code != nil {
			all = append(all, *p)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Phones

func (r *MemRepository) AddPhoneIfAbsent(_ context.Context, patientID int64, digits, kind string, principal bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := phoneKey(patientID, digits)
	if _, ok := r.Phones[key]; ok {
		return false, nil
	}
	r.Phones[key] = &mirror.Phone{
		ID:        r.id(),
		PatientID: patientID,
		Digits:    digits,
		Kind:      kind,
		Principal: principal,
		CreatedAt: time.Now(),
	}
	return true, nil
}

// Professionals

func (r *MemRepository) GetOrCreateProfessional(_ context.Context, displayName string, system mirror.System) (*mirror.Professional, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := profKey(displayName, system)
	if pr, ok := r.Professionals[key]; ok {
		cp := *pr
		return &cp, nil
	}
	pr := &mirror.Professional{
		ID:          r.id(),
		FullName:    displayName,
		DisplayName: displayName,
		System:      system,
		Active:      true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	r.Professionals[key] = pr
	cp := *pr
	return &cp, nil
}

// Appointments

func (r *MemRepository) GetAppointmentByPatientDateTime(_ context.Context, patientID int64, date time.Time, slotTime string) (*mirror.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.Appointments {
		if a.PatientID != nil && *a.PatientID == patientID && a.Date.Equal(date) && a.SlotTime == slotTime {
			cp := *a
			return &cp, nil
		}
	}
	return nil, mirror.ErrAppointmentNotFound
}

func (r *MemRepository) GetAppointmentByCode(_ context.Context, code int64, system mirror.System) (*mirror.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.Appointments {
		if a.Code != nil && *a.Code == code && a.System == system {
			cp := *a
			return &cp, nil
		}
	}
	return nil, mirror.ErrAppointmentNotFound
}

func (r *MemRepository) CreateAppointment(_ context.Context, a *mirror.Appointment) (*mirror.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	cp.ID = r.id()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.Appointments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *MemRepository) UpdateAppointment(_ context.Context, a *mirror.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Appointments[a.ID]; !ok {
		return mirror.ErrAppointmentNotFound
	}
	cp := *a
	cp.UpdatedAt = time.Now()
	r.Appointments[a.ID] = &cp
	return nil
}

// Sync support

func (r *MemRepository) ListRecentPatientIDs(_ context.Context, since time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, a := range r.Appointments {
		if a.PatientID == nil || a.Date.Before(since) {
			continue
		}
		if !seen[*a.PatientID] {
			seen[*a.PatientID] = true
			ids = append(ids, *a.PatientID)
		}
	}
	return ids, nil
}
