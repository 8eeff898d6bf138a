package portal

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/clinicops/portal-sync/internal/mirror"
)

// FakeBackend is an in-memory stand-in for the clinic portal's two back-end
// instances. It backs local development (PORTAL_DRIVER=fake) and the package
// tests; the production browser adapter plugs in at the same Driver seam.
// Driver() hands out independent driver handles the way the real adapter
// launches one browser per job, all sharing this state.
type FakeBackend struct {
	mu sync.Mutex

	user, pass string

	patients  map[mirror.System]map[int64]FakePatient
	histories map[string][]HistoryRow // key: system|code
	upcoming  map[mirror.System][]UpcomingRow

	openSlots map[string][]string // professional|date -> HH:MM slots
	booked    map[string]string   // professional|date|slot -> patient name
	nextCode  int64

	pageSize int
}

type FakePatient struct {
	Code       int64
	Name       string
	NationalID string
	Phone      string
	BirthDate  string // dd/mm/yyyy
}

// UpcomingRow is one row of the fake's upcoming-appointments report.
type UpcomingRow struct {
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

func NewFakeBackend(user, pass string) *FakeBackend {
	return &FakeBackend{
		user:      user,
		pass:      pass,
		patients:  make(map[mirror.System]map[int64]FakePatient),
		histories: make(map[string][]HistoryRow),
		upcoming:  make(map[mirror.System][]UpcomingRow),
		openSlots: make(map[string][]string),
		booked:    make(map[string]string),
		nextCode:  1000,
		pageSize:  5,
	}
}

// Driver returns a fresh handle with its own login and navigation state.
func (b *FakeBackend) Driver() Driver {
	return &fakeDriver{backend: b}
}

// Fixture helpers

func (b *FakeBackend) AddPatient(system mirror.System, p FakePatient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.patients[system] == nil {
		b.patients[system] = make(map[int64]FakePatient)
	}
	b.patients[system][p.Code] = p
}

func (b *FakeBackend) AddHistory(system mirror.System, code int64, rows ...HistoryRow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := historyKey(system, code)
	b.histories[key] = append(b.histories[key], rows...)
}

func (b *FakeBackend) AddUpcoming(system mirror.System, rows ...UpcomingRow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.upcoming[system] = append(b.upcoming[system], rows...)
}

func (b *FakeBackend) OpenSlot(professional, date string, slots ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := professional + "|" + date
	b.openSlots[key] = append(b.openSlots[key], slots...)
	sort.Strings(b.openSlots[key])
}

func (b *FakeBackend) SetPageSize(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pageSize = n
}

// Booked reports who holds a slot, for assertions.
func (b *FakeBackend) Booked(professional, date, slot string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, ok := b.booked[professional+"|"+date+"|"+slot]
	return name, ok
}

func historyKey(system mirror.System, code int64) string {
	return fmt.Sprintf("%s|%d", system, code)
}

// fakeDriver is one browser-equivalent: login, current screen and the open
// grid are handle-local, the portal data is shared.
type fakeDriver struct {
	backend *FakeBackend

	mu      sync.Mutex
	authed  bool
	system  mirror.System
	expired bool
	screen  Screen
	pages   [][]HistoryRow
	curPage int
}

// ExpireSession makes the next liveness probe fail once, as a silently
// dropped portal session would.
func (d *fakeDriver) ExpireSession() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expired = true
}

func (d *fakeDriver) Login(_ context.Context, system mirror.System) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backend.user == "" {
		return fmt.Errorf("%w: no credentials configured", ErrAuthFailed)
	}
	d.authed = true
	d.system = system
	d.expired = false
	d.screen = ScreenNone
	return nil
}

func (d *fakeDriver) LoggedIn(_ context.Context, system mirror.System) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.expired {
		d.expired = false
		d.authed = false
		return false, nil
	}
	return d.authed && d.system == system, nil
}

func (d *fakeDriver) NavigateTo(_ context.Context, screen Screen) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.authed {
		return fmt.Errorf("%w: not logged in", ErrUnexpectedState)
	}
	d.screen = screen
	return nil
}

func (d *fakeDriver) OnScreen(_ context.Context, screen Screen) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.authed && d.screen == screen, nil
}

func (d *fakeDriver) Search(_ context.Context, criteria SearchCriteria) ([]PatientHit, error) {
	d.mu.Lock()
	system := d.system
	d.mu.Unlock()

	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()

	var hits []PatientHit
	for _, p := range d.backend.patients[system] {
		match := false
		switch criteria.Kind {
		case SearchByCode:
			match = fmt.Sprintf("%d", p.Code) == criteria.Value
		case SearchByNationalID:
			match = p.NationalID == criteria.Value
		case SearchByName:
			match = p.Name == criteria.Value
		case SearchByPhone:
			match = p.Phone == criteria.Value
		case SearchByBirthDate:
			match = p.BirthDate == criteria.Value
		}
		if match {
			hits = append(hits, PatientHit{Code: p.Code, Name: p.Name, BirthDate: p.BirthDate})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Code < hits[j].Code })
	return hits, nil
}

func (d *fakeDriver) OpenHistory(_ context.Context, code int64) error {
	d.mu.Lock()
	system := d.system
	d.mu.Unlock()

	d.backend.mu.Lock()
	rows := d.backend.histories[historyKey(system, code)]
	pageSize := d.backend.pageSize
	d.backend.mu.Unlock()

	var pages [][]HistoryRow
	for start := 0; start < len(rows); start += pageSize {
		end := start + pageSize
		if end > len(rows) {
			end = len(rows)
		}
		pages = append(pages, rows[start:end])
	}
	if len(pages) == 0 {
		pages = [][]HistoryRow{{}}
	}

	d.mu.Lock()
	d.pages = pages
	d.curPage = 1
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) ReadGridPage(_ context.Context) ([]HistoryRow, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.curPage < 1 || d.curPage > len(d.pages) {
		return nil, fmt.Errorf("%w: no grid open", ErrUnexpectedState)
	}
	return d.pages[d.curPage-1], nil
}

func (d *fakeDriver) PageInfo(_ context.Context) (PageInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := len(d.pages)
	info := PageInfo{
		CurrentRef:   fmt.Sprintf("#page-%d", d.curPage),
		CurrentLabel: fmt.Sprintf("%d", d.curPage),
		LastRef:      fmt.Sprintf("#page-%d", total),
		LastLabel:    fmt.Sprintf("Last (%d)", total),
	}
	if d.curPage < total {
		info.HasNext = true
		info.NextRef = fmt.Sprintf("#page-%d", d.curPage+1)
	}
	return info, nil
}

func (d *fakeDriver) RequestPage(_ context.Context, page int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if page < 1 || page > len(d.pages) {
		return fmt.Errorf("%w: page %d out of range", ErrNotFound, page)
	}
	d.curPage = page
	return nil
}

func (d *fakeDriver) CurrentPage(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.curPage, nil
}

// UpcomingReportHeader is the column layout of the upcoming-appointments
// export, shared with the report parser.
var UpcomingReportHeader = []string{
	"Code", "Patient", "Birth Date", "Phone", "Professional", "Specialty",
	"Date", "Time", "Status", "Procedure", "First Visit", "Notes",
}

// ActivePatientsReportHeader is the column layout of the active-patients
// export.
var ActivePatientsReportHeader = []string{"Code", "Patient", "Phone", "National ID", "Birth Date"}

func (d *fakeDriver) ExportReport(_ context.Context, report Report) ([]byte, error) {
	d.mu.Lock()
	system := d.system
	d.mu.Unlock()

	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()

	switch report {
	case ReportUpcoming:
		var rows [][]any
		for _, u := range d.backend.upcoming[system] {
			first := "No"
			if u.FirstVisit {
				first = "Yes"
			}
			rows = append(rows, []any{
				u.Code, u.PatientName, u.BirthDate, u.Phone, u.Professional,
				u.Specialty, u.Date, u.Time, u.Status, u.Procedure, first, u.Notes,
			})
		}
		return buildSheet(UpcomingReportHeader, rows)
	case ReportActivePatients:
		var rows [][]any
		for _, p := range d.backend.patients[system] {
			rows = append(rows, []any{p.Code, p.Name, p.Phone, p.NationalID, p.BirthDate})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i][0].(int64) < rows[j][0].(int64) })
		return buildSheet(ActivePatientsReportHeader, rows)
	default:
		return nil, fmt.Errorf("%w: report %q", ErrNotFound, report)
	}
}

func buildSheet(header []string, rows [][]any) ([]byte, error) {
	x := excelize.NewFile()
	sheet := x.GetSheetName(0)

	for col, h := range header {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := x.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}
	for i, row := range rows {
		for col, v := range row {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := x.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := x.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *fakeDriver) CheckSlot(_ context.Context, q AvailabilityQuery) (Availability, error) {
	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()
	return d.backend.checkSlotLocked(q), nil
}

func (b *FakeBackend) checkSlotLocked(q AvailabilityQuery) Availability {
	key := q.Professional + "|" + q.Date
	slots, ok := b.openSlots[key]
	if !ok {
		return Availability{NoClinicDay: true}
	}

	var open []string
	for _, slot := range slots {
		if _, taken := b.booked[key+"|"+slot]; taken {
			continue
		}
		if q.From != "" && slot < q.From {
			continue
		}
		if q.To != "" && slot > q.To {
			continue
		}
		open = append(open, slot)
	}

	if q.SlotTime != "" {
		for _, slot := range open {
			if slot == q.SlotTime {
				return Availability{Available: true, SlotTime: slot, OpenSlots: open}
			}
		}
		return Availability{OpenSlots: open}
	}

	if len(open) == 0 {
		return Availability{}
	}
	return Availability{Available: true, SlotTime: open[0], OpenSlots: open}
}

func (d *fakeDriver) Schedule(_ context.Context, req ScheduleRequest) (ScheduleResult, error) {
	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()

	avail := d.backend.checkSlotLocked(AvailabilityQuery{
		Professional: req.Professional,
		Date:         req.Date,
		SlotTime:     req.SlotTime,
	})
	if avail.NoClinicDay || !avail.Available {
		return ScheduleResult{}, fmt.Errorf("%w: no open slot for %s on %s", ErrNotFound, req.Professional, req.Date)
	}

	key := req.Professional + "|" + req.Date + "|" + avail.SlotTime
	d.backend.booked[key] = req.PatientName
	d.backend.nextCode++
	return ScheduleResult{SlotTime: avail.SlotTime, Code: d.backend.nextCode}, nil
}

func (d *fakeDriver) Cancel(_ context.Context, req CancelRequest) error {
	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()

	key := req.Professional + "|" + req.Date + "|" + req.SlotTime
	holder, ok := d.backend.booked[key]
	if !ok || holder != req.PatientName {
		return fmt.Errorf("%w: no booking for %s at %s %s", ErrNotFound, req.PatientName, req.Date, req.SlotTime)
	}
	delete(d.backend.booked, key)
	return nil
}
