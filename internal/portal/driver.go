package portal

import (
	"context"

	"github.com/clinicops/portal-sync/internal/mirror"
)

// Screen is a logical screen of the portal UI. The driver knows how each one
// is reached and how its presence is probed.
type Screen string

const (
	ScreenNone          Screen = ""
	ScreenSchedule      Screen = "schedule"
	ScreenPatientSearch Screen = "patient_search"
	ScreenHistory       Screen = "history"
	ScreenReports       Screen = "reports"
)

// SearchKind selects which patient attribute a portal search matches on.
type SearchKind string

const (
	SearchByCode       SearchKind = "code"
	SearchByNationalID SearchKind = "national_id"
	SearchByName       SearchKind = "name"
	SearchByPhone      SearchKind = "phone"
	SearchByBirthDate  SearchKind = "birth_date"
)

type SearchCriteria struct {
	Kind  SearchKind
	Value string
}

// PatientHit is one row of a portal patient search result.
type PatientHit struct {
	Code      int64
	Name      string
	BirthDate string // dd/mm/yyyy as rendered
}

// HistoryRow is one grid row of a patient's appointment history, raw as
// rendered. Cancelled indicates the portal's "removed by" marking; NoShow its
// red row class. Both are filtered out before reconciliation.
type HistoryRow struct {
	Professional string
	Date         string // dd/mm/yyyy
	Time         string // HH:MM or HH:MM:SS
	Kind         string
	FollowUpBy   string // dd/mm/yyyy, may be empty
	Cancelled    bool
	NoShow       bool
}

// PageInfo is a snapshot of the pagination widget under the current grid.
// The three termination signals are all derivable from it; the portal
// renders each of them unreliably, so none is trusted alone.
type PageInfo struct {
	CurrentRef   string // href of the "current page" link
	CurrentLabel string // its visible label, usually the page number
	LastRef      string // href of the "last page" link
	LastLabel    string // its visible label, e.g. "Last (12)"
	NextRef      string // href of the "next" link, empty when absent
	HasNext      bool   // whether a "next" link is rendered at all
}

// Report names a portal report export. Both come back as spreadsheet bytes.
type Report string

const (
	ReportUpcoming       Report = "upcoming_appointments"
	ReportActivePatients Report = "active_patients"
)

type ScheduleRequest struct {
	Professional string
	Date         string // dd/mm/yyyy
	SlotTime     string // HH:MM, empty means first free slot of the day
	PatientName  string
	NationalID   string
	Phone        string
	BirthDate    string
	Kind         string // visit kind, e.g. "first_visit"
	Insurance    string
}

type ScheduleResult struct {
	SlotTime string // the slot actually taken
	Code     int64  // portal code for the created occurrence, 0 if not shown
}

type CancelRequest struct {
	Professional string
	Date         string
	SlotTime     string
	PatientName  string
}

type AvailabilityQuery struct {
	Professional string
	Date         string // empty means scan forward for the next open day
	SlotTime     string // empty means any slot in [From, To]
	From         string // HH:MM window start
	To           string // HH:MM window end
}

type Availability struct {
	Available   bool
	NoClinicDay bool     // the date has no office hours at all
	SlotTime    string   // first matching open slot when Available
	OpenSlots   []string // all open slots seen in the window
}

// DriverFactory yields a fresh driver handle for one job. The production
// adapter launches a browser per call; each handle is owned by exactly one
// job and never shared.
type DriverFactory func() Driver

// Driver is the opaque automation capability the coordination core runs
// against. A concrete implementation drives a real browser; the fake drives
// an in-memory portal. Every method returns data or a typed error from
// errors.go, never raw automation detail.
type Driver interface {
	// Authentication and navigation
	Login(ctx context.Context, system mirror.System) error
	LoggedIn(ctx context.Context, system mirror.System) (bool, error)
	NavigateTo(ctx context.Context, screen Screen) error
	OnScreen(ctx context.Context, screen Screen) (bool, error)

	// Patient search and history traversal
	Search(ctx context.Context, criteria SearchCriteria) ([]PatientHit, error)
	OpenHistory(ctx context.Context, code int64) error
	ReadGridPage(ctx context.Context) ([]HistoryRow, error)
	PageInfo(ctx context.Context) (PageInfo, error)
	RequestPage(ctx context.Context, page int) error
	CurrentPage(ctx context.Context) (int, error)

	// Report exports
	ExportReport(ctx context.Context, report Report) ([]byte, error)

	// Calendar mutations
	CheckSlot(ctx context.Context, q AvailabilityQuery) (Availability, error)
	Schedule(ctx context.Context, req ScheduleRequest) (ScheduleResult, error)
	Cancel(ctx context.Context, req CancelRequest) error
}
