package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/mirror"
	"github.com/clinicops/portal-sync/internal/mirror/mirrortest"
	"github.com/clinicops/portal-sync/internal/portal"
	"github.com/clinicops/portal-sync/internal/reconcile"
)

func newTestService(t *testing.T) (*Service, *mirrortest.MemRepository, *portal.FakeBackend) {
	t.Helper()

	repo := mirrortest.NewMemRepository()
	backend := portal.NewFakeBackend("user", "pass")
	engine := reconcile.NewEngine(repo, zap.NewNop())
	svc := NewService(backend.Driver, repo, engine, 100, 7, zap.NewNop())
	return svc, repo, backend
}

func TestSyncPatientLearnsCodeAndMergesHistory(t *testing.T) {
	svc, repo, backend := newTestService(t)
	ctx := context.Background()

	backend.AddPatient(mirror.SystemPrimary, portal.FakePatient{
		Code:       42,
		Name:       "Ana Souza",
		NationalID: "12345678901",
	})
	backend.AddHistory(mirror.SystemPrimary, 42,
		portal.HistoryRow{Professional: "Dr. Reyes", Date: "10/03/2026", Time: "09:00", Kind: "Consultation"},
		portal.HistoryRow{Professional: "Dr. Reyes", Date: "17/03/2026", Time: "09:30", Kind: "Follow-up"},
		portal.HistoryRow{Professional: "Dr. Reyes", Date: "24/03/2026", Time: "09:00", Kind: "Consultation", Cancelled: true},
		portal.HistoryRow{Professional: "Dr. Reyes", Date: "03/02/2026", Time: "11:00", Kind: "Consultation", NoShow: true},
	)

	// Mirrored without a code, as a patient created over the API would be.
	p, err := repo.CreatePatient(ctx, &mirror.Patient{
		System:     mirror.SystemPrimary,
		NationalID: "12345678901",
		Name:       "Ana Souza",
	})
	require.NoError(t, err)

	stats, err := svc.SyncPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, reconcile.Stats{Added: 2}, stats, "cancelled and no-show rows stay out of the mirror")

	refreshed, err := repo.GetPatientByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed.Code)
	assert.Equal(t, int64(42), *refreshed.Code)

	// Second run reuses the learned code and changes nothing.
	stats, err = svc.SyncPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, reconcile.Stats{Skipped: 2}, stats)
}

func TestSyncPatientUnknownOnPortal(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	p, err := repo.CreatePatient(ctx, &mirror.Patient{
		System:     mirror.SystemPrimary,
		NationalID: "00000000000",
		Name:       "Ghost",
	})
	require.NoError(t, err)

	_, err = svc.SyncPatient(ctx, p.ID)
	assert.ErrorIs(t, err, portal.ErrNotFound)
}

func TestSyncUpcomingFallsBackToOtherSystem(t *testing.T) {
	svc, repo, backend := newTestService(t)
	ctx := context.Background()

	// Primary export is empty; the data lives on the legacy instance.
	backend.AddUpcoming(mirror.SystemLegacy, portal.UpcomingRow{
		Code:         7001,
		PatientName:  "Ana Souza",
		Professional: "Dr. Reyes",
		Date:         "20/04/2026",
		Time:         "14:00",
		Status:       "Scheduled",
		Procedure:    "Consultation",
	})

	stats, err := svc.SyncUpcoming(ctx, mirror.SystemPrimary)
	require.NoError(t, err)
	assert.Equal(t, reconcile.Stats{Added: 1}, stats)

	appt, err := repo.GetAppointmentByCode(ctx, 7001, mirror.SystemLegacy)
	require.NoError(t, err)
	assert.Equal(t, mirror.StatusScheduled, appt.Status)
}

func TestSeedPatientsFromExport(t *testing.T) {
	svc, repo, backend := newTestService(t)
	ctx := context.Background()

	backend.AddPatient(mirror.SystemPrimary, portal.FakePatient{
		Code:       500,
		Name:       "Bruno Dias",
		NationalID: "98765432100",
		Phone:      "(11) 98765-4321",
		BirthDate:  "05/06/1988",
	})

	stats, err := svc.SeedPatients(ctx, mirror.SystemPrimary)
	require.NoError(t, err)
	assert.Equal(t, reconcile.Stats{Added: 1}, stats)

	p, err := repo.GetPatientByCode(ctx, 500, mirror.SystemPrimary)
	require.NoError(t, err)
	assert.Equal(t, "Bruno Dias", p.Name)
}

func TestSyncAllRecentContinuesPastFailures(t *testing.T) {
	svc, repo, backend := newTestService(t)
	ctx := context.Background()

	backend.AddPatient(mirror.SystemPrimary, portal.FakePatient{
		Code: 42, Name: "Ana Souza", NationalID: "12345678901",
	})
	backend.AddHistory(mirror.SystemPrimary, 42,
		portal.HistoryRow{Professional: "Dr. Reyes", Date: "10/03/2026", Time: "09:00", Kind: "Consultation"},
	)

	good, err := repo.CreatePatient(ctx, &mirror.Patient{
		System: mirror.SystemPrimary, NationalID: "12345678901", Name: "Ana Souza",
	})
	require.NoError(t, err)
	bad, err := repo.CreatePatient(ctx, &mirror.Patient{
		System: mirror.SystemPrimary, NationalID: "00000000000", Name: "Ghost",
	})
	require.NoError(t, err)

	// Both look recently active.
	for _, p := range []*mirror.Patient{good, bad} {
		id := p.ID
		_, err := repo.CreateAppointment(ctx, &mirror.Appointment{
			PatientID: &id,
			System:    mirror.SystemPrimary,
			Date:      mustDate(t, "28/08/2026"),
			SlotTime:  "09:00",
			Status:    mirror.StatusScheduled,
		})
		require.NoError(t, err)
	}

	stats, err := svc.SyncAllRecent(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Errors, 1, "the unknown patient must be counted, not fatal")
	assert.GreaterOrEqual(t, stats.Skipped+stats.Added, 1, "the known patient still syncs")
}

func mustDate(t *testing.T, s string) (d time.Time) {
	t.Helper()
	parsed, err := reconcile.ParseDate(s)
	require.NoError(t, err)
	return parsed
}
