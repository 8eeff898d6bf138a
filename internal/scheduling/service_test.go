package scheduling

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/mirror"
	"github.com/clinicops/portal-sync/internal/portal"
)

func newTestService(t *testing.T) (*Service, *portal.FakeBackend) {
	t.Helper()
	backend := portal.NewFakeBackend("user", "pass")
	return NewService(backend.Driver, zap.NewNop()), backend
}

func TestScheduleTakesRequestedSlot(t *testing.T) {
	svc, backend := newTestService(t)
	backend.OpenSlot("Dr. Reyes", "20/04/2026", "09:00", "09:30", "10:00")

	res, err := svc.Schedule(context.Background(), ScheduleRequest{
		System:       mirror.SystemPrimary,
		Professional: "Dr. Reyes",
		Date:         "20/04/2026",
		SlotTime:     "09:30",
		PatientName:  "Ana Souza",
		NationalID:   "12345678901",
	})
	require.NoError(t, err)
	assert.Equal(t, "09:30", res.SlotTime)
	assert.NotZero(t, res.Code)

	holder, ok := backend.Booked("Dr. Reyes", "20/04/2026", "09:30")
	require.True(t, ok)
	assert.Equal(t, "Ana Souza", holder)
}

func TestScheduleFirstFreeSlotWhenTimeOmitted(t *testing.T) {
	svc, backend := newTestService(t)
	backend.OpenSlot("Dr. Reyes", "20/04/2026", "10:00", "09:00")

	res, err := svc.Schedule(context.Background(), ScheduleRequest{
		System:       mirror.SystemPrimary,
		Professional: "Dr. Reyes",
		Date:         "20/04/2026",
		PatientName:  "Ana Souza",
	})
	require.NoError(t, err)
	assert.Equal(t, "09:00", res.SlotTime)
}

func TestScheduleTakenSlot(t *testing.T) {
	svc, backend := newTestService(t)
	backend.OpenSlot("Dr. Reyes", "20/04/2026", "09:00")

	req := ScheduleRequest{
		System:       mirror.SystemPrimary,
		Professional: "Dr. Reyes",
		Date:         "20/04/2026",
		SlotTime:     "09:00",
		PatientName:  "Ana Souza",
	}
	_, err := svc.Schedule(context.Background(), req)
	require.NoError(t, err)

	req.PatientName = "Bruno Dias"
	_, err = svc.Schedule(context.Background(), req)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestScheduleNoClinicDay(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Schedule(context.Background(), ScheduleRequest{
		System:       mirror.SystemPrimary,
		Professional: "Dr. Reyes",
		Date:         "25/12/2026",
		SlotTime:     "09:00",
		PatientName:  "Ana Souza",
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestCancelFreesSlot(t *testing.T) {
	svc, backend := newTestService(t)
	backend.OpenSlot("Dr. Reyes", "20/04/2026", "09:00")

	req := ScheduleRequest{
		System:       mirror.SystemPrimary,
		Professional: "Dr. Reyes",
		Date:         "20/04/2026",
		SlotTime:     "09:00",
		PatientName:  "Ana Souza",
	}
	_, err := svc.Schedule(context.Background(), req)
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), CancelRequest{
		System:       mirror.SystemPrimary,
		Professional: "Dr. Reyes",
		Date:         "20/04/2026",
		SlotTime:     "09:00",
		PatientName:  "Ana Souza",
	})
	require.NoError(t, err)

	_, err = svc.Schedule(context.Background(), req)
	assert.NoError(t, err, "a cancelled slot is open again")
}

func TestCancelUnknownBooking(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Cancel(context.Background(), CancelRequest{
		System:       mirror.SystemPrimary,
		Professional: "Dr. Reyes",
		Date:         "20/04/2026",
		SlotTime:     "09:00",
		PatientName:  "Nobody",
	})
	assert.ErrorIs(t, err, portal.ErrNotFound)
}

func TestCheckAvailabilityWindow(t *testing.T) {
	svc, backend := newTestService(t)
	backend.OpenSlot("Dr. Reyes", "20/04/2026", "08:00", "09:00", "14:00", "16:00")

	avail, err := svc.CheckAvailability(context.Background(), AvailabilityRequest{
		System:       mirror.SystemPrimary,
		Professional: "Dr. Reyes",
		Date:         "20/04/2026",
		From:         "09:00",
		To:           "15:00",
	})
	require.NoError(t, err)
	assert.True(t, avail.Available)
	assert.Equal(t, "09:00", avail.SlotTime)
	assert.Equal(t, []string{"09:00", "14:00"}, avail.OpenSlots)
}

func TestCheckAvailabilityNoClinicDay(t *testing.T) {
	svc, _ := newTestService(t)

	avail, err := svc.CheckAvailability(context.Background(), AvailabilityRequest{
		System:       mirror.SystemPrimary,
		Professional: "Dr. Reyes",
		Date:         "25/12/2026",
	})
	require.NoError(t, err)
	assert.False(t, avail.Available)
	assert.True(t, avail.NoClinicDay)
}
