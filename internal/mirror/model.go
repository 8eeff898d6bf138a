package mirror

import (
	"time"
)

// System identifies which back-end instance of the clinic portal a record was
// observed on. The two instances partition patients, professionals and
// appointments into disjoint namespaces.
type System string

const (
	SystemPrimary System = "primary"
	SystemLegacy  System = "legacy"
)

// OtherSystem returns the sibling back-end instance.
func OtherSystem(s System) System {
	if s == SystemPrimary {
		return SystemLegacy
	}
	return SystemPrimary
}

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Patient mirrors one portal patient record. Code is the portal-assigned
// identifier; it is unique per system but may be unknown until the patient is
// first observed in an export.
type Patient struct {
	ID         int64
	Code       *int64
	System     System
	NationalID string
	Name       string
	RawPhone   string
	BirthDate  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Phone is one normalized number for a patient. Digits holds digits only;
// (patient, digits) is unique.
type Phone struct {
	ID        int64
	PatientID int64
	Digits    string
	Kind      string // "whatsapp", "landline", ...
	Principal bool
	CreatedAt time.Time
}

// Professional is created lazily the first time an appointment references a
// name not yet known for its system. The portal code is learned later, if
// ever; until then (display name, system) is the identity.
type Professional struct {
	ID          int64
	FullName    string
	DisplayName string
	Specialty   string
	System      System
	Code        *string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Appointment mirrors one portal appointment occurrence. Two ingestion paths
// feed it: history grids key by (patient, date, slot time); the upcoming
// report keys by (code, system). SlotTime is the portal's wall-clock slot in
// HH:MM form.
type Appointment struct {
	ID             int64
	PatientID      *int64
	ProfessionalID *int64
	Code           *int64
	System         System
	Date           time.Time
	SlotTime       string
	Status         AppointmentStatus
	Procedure      string
	FirstVisit     bool
	Notes          string
	FollowUpBy     *time.Time
	Channel        string // "portal_sync", "api", ...
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
