package jobs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/clinicops/portal-sync/internal/mirror"
	"github.com/clinicops/portal-sync/internal/scheduling"
	"github.com/clinicops/portal-sync/internal/syncer"
)

// Job names, the public vocabulary of POST /jobs.
const (
	JobSchedule          = "schedule"
	JobCancel            = "cancel"
	JobCheckAvailability = "check-availability"
	JobSyncPatient       = "sync-one-patient"
	JobSyncAllRecent     = "sync-all-recent"
	JobSeedHistory       = "bulk-history-seed"
	JobSyncUpcoming      = "next-appointments-sync"
	JobSeedPatients      = "active-patients-seed"
)

// Services are the runners the catalog binds job names to.
type Services struct {
	Scheduling *scheduling.Service
	Syncer     *syncer.Service
	Repo       mirror.Repository
}

// RegisterAll installs every job definition. Lock keys carry the business
// identity of what the job mutates, so a schedule and a cancel for the same
// slot and patient contend while unrelated slots run in parallel.
func RegisterAll(d *Dispatcher, svc Services) {
	d.Register(Definition{
		Name:       JobSchedule,
		LockKey:    slotLockKey,
		ChainAfter: JobSyncPatient,
		Run: func(ctx context.Context, a Args) (interface{}, error) {
			return svc.Scheduling.Schedule(ctx, scheduling.ScheduleRequest{
				System:       argSystem(a),
				Professional: a["professional"],
				Date:         a["date"],
				SlotTime:     a["slot_time"],
				PatientName:  a["patient_name"],
				NationalID:   a["national_id"],
				Phone:        a["phone"],
				BirthDate:    a["birth_date"],
				Kind:         a["kind"],
				Insurance:    a["insurance"],
			})
		},
	})

	d.Register(Definition{
		Name:       JobCancel,
		LockKey:    slotLockKey,
		ChainAfter: JobSyncPatient,
		Run: func(ctx context.Context, a Args) (interface{}, error) {
			err := svc.Scheduling.Cancel(ctx, scheduling.CancelRequest{
				System:       argSystem(a),
				Professional: a["professional"],
				Date:         a["date"],
				SlotTime:     a["slot_time"],
				PatientName:  a["patient_name"],
			})
			return nil, err
		},
	})

	d.Register(Definition{
		Name: JobCheckAvailability,
		Run: func(ctx context.Context, a Args) (interface{}, error) {
			return svc.Scheduling.CheckAvailability(ctx, scheduling.AvailabilityRequest{
				System:       argSystem(a),
				Professional: a["professional"],
				Date:         a["date"],
				SlotTime:     a["slot_time"],
				From:         a["from"],
				To:           a["to"],
			})
		},
	})

	d.Register(Definition{
		Name: JobSyncPatient,
		LockKey: func(a Args) string {
			if id := a["patient_id"]; id != "" {
				return "lock:sync:patient:" + id
			}
			return fmt.Sprintf("lock:sync:patient:%s:%s", argSystem(a), a["national_id"])
		},
		Run: func(ctx context.Context, a Args) (interface{}, error) {
			id, err := resolvePatientID(ctx, svc.Repo, a)
			if err != nil {
				return nil, err
			}
			return svc.Syncer.SyncPatient(ctx, id)
		},
	})

	d.Register(Definition{
		Name: JobSyncAllRecent,
		LockKey: func(Args) string {
			return "lock:sync:recent"
		},
		Run: func(ctx context.Context, a Args) (interface{}, error) {
			return svc.Syncer.SyncAllRecent(ctx)
		},
	})

	d.Register(Definition{
		Name: JobSeedHistory,
		LockKey: func(a Args) string {
			return fmt.Sprintf("lock:seed:history:%s", argSystem(a))
		},
		Run: func(ctx context.Context, a Args) (interface{}, error) {
			offset, err := argInt(a, "offset", 0)
			if err != nil {
				return nil, err
			}
			limit, err := argInt(a, "limit", 50)
			if err != nil {
				return nil, err
			}
			return svc.Syncer.SeedHistory(ctx, argSystem(a), offset, limit)
		},
	})

	d.Register(Definition{
		Name: JobSyncUpcoming,
		LockKey: func(a Args) string {
			return fmt.Sprintf("lock:sync:upcoming:%s", argSystem(a))
		},
		Run: func(ctx context.Context, a Args) (interface{}, error) {
			return svc.Syncer.SyncUpcoming(ctx, argSystem(a))
		},
	})

	d.Register(Definition{
		Name: JobSeedPatients,
		LockKey: func(a Args) string {
			return fmt.Sprintf("lock:seed:patients:%s", argSystem(a))
		},
		Run: func(ctx context.Context, a Args) (interface{}, error) {
			return svc.Syncer.SeedPatients(ctx, argSystem(a))
		},
	})
}

// slotLockKey serializes mutations of one (professional, date, slot, patient)
// identity. An empty slot means "first free of the day", which must contend
// with every specific slot for that professional and day, hence the "any"
// bucket.
func slotLockKey(a Args) string {
	slot := a["slot_time"]
	if slot == "" {
		slot = "any"
	}
	return fmt.Sprintf("lock:schedule:%s:%s:%s:%s",
		a["professional"], a["date"], slot, a["national_id"])
}

func argSystem(a Args) mirror.System {
	if a["system"] == string(mirror.SystemLegacy) {
		return mirror.SystemLegacy
	}
	return mirror.SystemPrimary
}

func argInt(a Args, key string, def int) (int, error) {
	v, ok := a[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, NewError(CodeBadRequest, fmt.Sprintf("argument %q must be an integer", key))
	}
	return n, nil
}

// resolvePatientID accepts either a mirror id or a (system, national id)
// pair, the latter being what chained submissions from schedule/cancel carry.
func resolvePatientID(ctx context.Context, repo mirror.Repository, a Args) (int64, error) {
	if v := a["patient_id"]; v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, NewError(CodeBadRequest, `argument "patient_id" must be an integer`)
		}
		return id, nil
	}

	nid := a["national_id"]
	if nid == "" {
		return 0, NewError(CodeBadRequest, `one of "patient_id" or "national_id" is required`)
	}
	p, err := repo.GetPatientByNationalID(ctx, nid, argSystem(a))
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}
