package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/mirror"
	"github.com/clinicops/portal-sync/internal/mirror/mirrortest"
)

func newTestEngine() (*Engine, *mirrortest.MemRepository) {
	repo := mirrortest.NewMemRepository()
	return NewEngine(repo, zap.NewNop()), repo
}

func seedPatient(t *testing.T, repo *mirrortest.MemRepository, code int64) *mirror.Patient {
	t.Helper()
	p, err := repo.CreatePatient(context.Background(), &mirror.Patient{
		Code:       &code,
		System:     mirror.SystemPrimary,
		NationalID: "12345678901",
		Name:       "Ana Souza",
	})
	require.NoError(t, err)
	return p
}

func TestReconcileHistoryIsIdempotent(t *testing.T) {
	engine, repo := newTestEngine()
	patient := seedPatient(t, repo, 100)
	ctx := context.Background()

	recs := []HistoryRecord{
		{Professional: "Dr. Reyes", Date: "10/03/2026", Time: "09:00", Kind: "Consultation"},
		{Professional: "Dr. Reyes", Date: "17/03/2026", Time: "09:30:00", Kind: "Follow-up", FollowUpBy: "01/04/2026"},
	}

	first := engine.ReconcileHistory(ctx, patient, recs)
	assert.Equal(t, Stats{Added: 2}, first)

	second := engine.ReconcileHistory(ctx, patient, recs)
	assert.Equal(t, Stats{Skipped: 2}, second)
	assert.Len(t, repo.Appointments, 2)
}

func TestReconcileHistoryBadRowDoesNotStopBatch(t *testing.T) {
	engine, repo := newTestEngine()
	patient := seedPatient(t, repo, 100)

	var recs []HistoryRecord
	for i := 0; i < 10; i++ {
		rec := HistoryRecord{
			Professional: "Dr. Reyes",
			Date:         fmt.Sprintf("%02d/03/2026", i+1),
			Time:         "09:00",
			Kind:         "Consultation",
		}
		if i == 4 {
			rec.Time = "not-a-time"
		}
		recs = append(recs, rec)
	}

	stats := engine.ReconcileHistory(context.Background(), patient, recs)
	assert.Equal(t, Stats{Added: 9, Errors: 1}, stats)
}

func TestConcurrentGetOrCreateMakesOneProfessional(t *testing.T) {
	engine, repo := newTestEngine()
	ctx := context.Background()

	const workers = 8
	patients := make([]*mirror.Patient, workers)
	for i := range patients {
		patients[i] = seedPatient(t, repo, int64(200+i))
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			engine.ReconcileHistory(ctx, patients[i], []HistoryRecord{
				{Professional: "Dr. Brand New", Date: "10/03/2026", Time: "09:00"},
			})
		}(i)
	}
	wg.Wait()

	assert.Len(t, repo.Professionals, 1)
}

func TestReconcileHistoryTakesLastObservedProcedure(t *testing.T) {
	engine, repo := newTestEngine()
	patient := seedPatient(t, repo, 100)
	ctx := context.Background()

	engine.ReconcileHistory(ctx, patient, []HistoryRecord{
		{Professional: "Dr. Reyes", Date: "10/03/2026", Time: "09:00", Kind: "Consultation"},
	})
	stats := engine.ReconcileHistory(ctx, patient, []HistoryRecord{
		{Professional: "Dr. Reyes", Date: "10/03/2026", Time: "09:00", Kind: "Surgery"},
	})

	assert.Equal(t, Stats{Updated: 1}, stats)

	appt, err := repo.GetAppointmentByPatientDateTime(ctx, patient.ID, mustDate(t, "10/03/2026"), "09:00")
	require.NoError(t, err)
	assert.Equal(t, "Surgery", appt.Procedure)
}

func TestReconcileHistoryCreatesProfessionalOnce(t *testing.T) {
	engine, repo := newTestEngine()
	patient := seedPatient(t, repo, 100)

	engine.ReconcileHistory(context.Background(), patient, []HistoryRecord{
		{Professional: "Dr. Lima", Date: "10/03/2026", Time: "09:00"},
		{Professional: "Dr. Lima", Date: "11/03/2026", Time: "09:00"},
		{Professional: "Dr. Lima", Date: "12/03/2026", Time: "09:00"},
	})

	assert.Len(t, repo.Professionals, 1)
}

func TestReconcileUpcomingCreatesAndUpdatesByCode(t *testing.T) {
	engine, repo := newTestEngine()
	seedPatient(t, repo, 100)
	ctx := context.Background()

	rec := UpcomingRecord{
		Code:         7001,
		PatientName:  "Ana Souza",
		Professional: "Dr. Reyes",
		Date:         "20/04/2026",
		Time:         "14:00",
		Status:       "Scheduled",
		Procedure:    "Consultation",
	}

	stats := engine.ReconcileUpcoming(ctx, mirror.SystemPrimary, []UpcomingRecord{rec})
	assert.Equal(t, Stats{Added: 1}, stats)

	rec.Status = "Cancelled"
	stats = engine.ReconcileUpcoming(ctx, mirror.SystemPrimary, []UpcomingRecord{rec})
	assert.Equal(t, Stats{Updated: 1}, stats)

	appt, err := repo.GetAppointmentByCode(ctx, 7001, mirror.SystemPrimary)
	require.NoError(t, err)
	assert.Equal(t, mirror.StatusCancelled, appt.Status)
}

func TestReconcileUpcomingClaimsCodelessHistoryRow(t *testing.T) {
	engine, repo := newTestEngine()
	patient := seedPatient(t, repo, 100)
	ctx := context.Background()

	// The history path mirrored this occurrence first, without a code.
	engine.ReconcileHistory(ctx, patient, []HistoryRecord{
		{Professional: "Dr. Reyes", Date: "20/04/2026", Time: "14:00", Kind: "Consultation"},
	})
	require.Len(t, repo.Appointments, 1)

	stats := engine.ReconcileUpcoming(ctx, mirror.SystemPrimary, []UpcomingRecord{{
		Code:      100, // matches the seeded patient's code
		Date:      "20/04/2026",
		Time:      "14:00",
		Status:    "Scheduled",
		Procedure: "Consultation",
	}})

	assert.Equal(t, Stats{Updated: 1}, stats)
	assert.Len(t, repo.Appointments, 1, "the codeless row must be claimed, not duplicated")

	appt, err := repo.GetAppointmentByCode(ctx, 100, mirror.SystemPrimary)
	require.NoError(t, err)
	require.NotNil(t, appt.PatientID)
	assert.Equal(t, patient.ID, *appt.PatientID)
}

func TestReconcilePatientsRoundTrip(t *testing.T) {
	engine, repo := newTestEngine()
	ctx := context.Background()

	recs := []PatientRecord{
		{Code: 500, Name: "Bruno Dias", Phone: "(11) 98765-4321", NationalID: "987.654.321-00", BirthDate: "05/06/1988"},
	}

	stats := engine.ReconcilePatients(ctx, mirror.SystemPrimary, recs)
	assert.Equal(t, Stats{Added: 1}, stats)

	stats = engine.ReconcilePatients(ctx, mirror.SystemPrimary, recs)
	assert.Equal(t, Stats{Skipped: 1}, stats)

	p, err := repo.GetPatientByCode(ctx, 500, mirror.SystemPrimary)
	require.NoError(t, err)
	assert.Equal(t, "98765432100", p.NationalID)
	assert.Len(t, repo.Phones, 1)

	recs[0].Name = "Bruno S. Dias"
	stats = engine.ReconcilePatients(ctx, mirror.SystemPrimary, recs)
	assert.Equal(t, Stats{Updated: 1}, stats)
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := ParseDate(s)
	require.NoError(t, err)
	return parsed
}
