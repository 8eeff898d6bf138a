package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/mirror"
	"github.com/clinicops/portal-sync/internal/portal"
	"github.com/clinicops/portal-sync/internal/reconcile"
)

// Service pulls externally held appointment and patient data into the mirror.
// Like the scheduling side, every run opens its own driver handle; nothing
// here is shared between concurrent jobs except the repository.
type Service struct {
	drivers  portal.DriverFactory
	repo     mirror.Repository
	engine   *reconcile.Engine
	log      *zap.Logger
	pageCap  int
	daysBack int
}

func NewService(drivers portal.DriverFactory, repo mirror.Repository, engine *reconcile.Engine, pageCap, daysBack int, log *zap.Logger) *Service {
	if daysBack <= 0 {
		daysBack = 7
	}
	return &Service{
		drivers:  drivers,
		repo:     repo,
		engine:   engine,
		log:      log,
		pageCap:  pageCap,
		daysBack: daysBack,
	}
}

// SyncPatient refreshes one mirrored patient's history from the portal. A
// patient without a learned portal code is first resolved through the portal
// search screen by national id; the code sticks so later runs skip the
// search.
func (s *Service) SyncPatient(ctx context.Context, patientID int64) (reconcile.Stats, error) {
	var stats reconcile.Stats

	patient, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		return stats, err
	}

	sess := portal.NewSession(s.drivers(), s.log)
	if err := sess.EnsureAuthenticated(ctx, patient.System); err != nil {
		return stats, err
	}

	if patient.Code == nil {
		code, err := s.resolveCode(ctx, sess, patient)
		if err != nil {
			return stats, err
		}
		patient.Code = &code
		if err := s.repo.UpdatePatient(ctx, patient); err != nil {
			return stats, err
		}
		s.log.Info("learned portal code",
			zap.Int64("patient_id", patient.ID),
			zap.Int64("code", code))
	}

	recs, err := s.fetchHistory(ctx, sess, *patient.Code)
	if err != nil {
		return stats, err
	}

	stats = s.engine.ReconcileHistory(ctx, patient, recs)
	s.log.Info("patient history synced",
		zap.Int64("patient_id", patient.ID),
		zap.Int("rows", len(recs)),
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("errors", stats.Errors))
	return stats, nil
}

// resolveCode searches the portal for the patient and returns the single
// matching code. Zero hits is ErrNotFound; more than one means the national
// id is ambiguous on the portal side and the sync refuses to guess.
func (s *Service) resolveCode(ctx context.Context, sess *portal.Session, patient *mirror.Patient) (int64, error) {
	if patient.NationalID == "" {
		return 0, fmt.Errorf("%w: patient %d has no code and no national id to search by", portal.ErrNotFound, patient.ID)
	}

	if err := sess.EnsureOnScreen(ctx, portal.ScreenPatientSearch); err != nil {
		return 0, err
	}

	hits, err := sess.Driver().Search(ctx, portal.SearchCriteria{
		Kind:  portal.SearchByNationalID,
		Value: patient.NationalID,
	})
	if err != nil {
		return 0, fmt.Errorf("search patient: %w", err)
	}

	switch len(hits) {
	case 0:
		return 0, fmt.Errorf("%w: no portal match for patient %d", portal.ErrNotFound, patient.ID)
	case 1:
		return hits[0].Code, nil
	default:
		return 0, fmt.Errorf("%w: %d portal matches for patient %d", portal.ErrUnexpectedState, len(hits), patient.ID)
	}
}

// fetchHistory walks every page of the patient's history grid and returns the
// rows worth keeping. Cancelled rows and past no-shows never reach the
// reconciler; they are portal noise, not appointments.
func (s *Service) fetchHistory(ctx context.Context, sess *portal.Session, code int64) ([]reconcile.HistoryRecord, error) {
	if err := sess.EnsureOnScreen(ctx, portal.ScreenHistory); err != nil {
		return nil, err
	}

	drv := sess.Driver()
	if err := drv.OpenHistory(ctx, code); err != nil {
		return nil, fmt.Errorf("open history for code %d: %w", code, err)
	}

	pager := portal.NewPager(drv, s.pageCap, s.log)

	var recs []reconcile.HistoryRecord
	for {
		rows, err := drv.ReadGridPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("read history page: %w", err)
		}
		for _, row := range rows {
			if row.Cancelled || row.NoShow {
				continue
			}
			recs = append(recs, reconcile.HistoryRecord{
				Professional: row.Professional,
				Date:         row.Date,
				Time:         row.Time,
				Kind:         row.Kind,
				FollowUpBy:   row.FollowUpBy,
			})
		}

		if !pager.HasNext(ctx) {
			break
		}
		if err := pager.Advance(ctx); err != nil {
			return nil, err
		}
	}

	s.log.Debug("history traversal finished",
		zap.Int64("code", code),
		zap.Int("pages", pager.Visited()),
		zap.Int("rows", len(recs)))
	return recs, nil
}

// SyncAllRecent refreshes every patient with appointment activity inside the
// lookback window. One bad patient does not stop the batch.
func (s *Service) SyncAllRecent(ctx context.Context) (reconcile.Stats, error) {
	var stats reconcile.Stats

	since := time.Now().AddDate(0, 0, -s.daysBack)
	ids, err := s.repo.ListRecentPatientIDs(ctx, since)
	if err != nil {
		return stats, err
	}

	for _, id := range ids {
		st, err := s.SyncPatient(ctx, id)
		stats.Merge(st)
		if err != nil {
			stats.Errors++
			s.log.Warn("patient sync failed, continuing batch",
				zap.Int64("patient_id", id), zap.Error(err))
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
	}

	s.log.Info("recent-patient sweep finished",
		zap.Int("patients", len(ids)),
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("errors", stats.Errors))
	return stats, nil
}

// SeedHistory bulk-loads history for a window of already-coded patients of
// one system, ordered by id so successive windows never overlap.
func (s *Service) SeedHistory(ctx context.Context, system mirror.System, offset, limit int) (reconcile.Stats, error) {
	var stats reconcile.Stats

	patients, err := s.repo.ListPatientsWithCodes(ctx, system, offset, limit)
	if err != nil {
		return stats, err
	}

	for i := range patients {
		st, err := s.SyncPatient(ctx, patients[i].ID)
		stats.Merge(st)
		if err != nil {
			stats.Errors++
			s.log.Warn("seed sync failed, continuing batch",
				zap.Int64("patient_id", patients[i].ID), zap.Error(err))
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
	}

	return stats, nil
}

// SyncUpcoming pulls the upcoming-appointments export for one system and
// reconciles it. An empty export is suspicious rather than conclusive, so the
// run probes the other system before accepting zero rows.
func (s *Service) SyncUpcoming(ctx context.Context, system mirror.System) (reconcile.Stats, error) {
	var stats reconcile.Stats

	recs, skipped, err := s.exportUpcoming(ctx, system)
	if err != nil {
		return stats, err
	}

	if len(recs) == 0 {
		other := mirror.OtherSystem(system)
		s.log.Warn("upcoming export came back empty, probing other system",
			zap.String("empty", string(system)),
			zap.String("probing", string(other)))
		recs, skipped, err = s.exportUpcoming(ctx, other)
		if err != nil {
			return stats, err
		}
		system = other
	}

	stats = s.engine.ReconcileUpcoming(ctx, system, recs)
	stats.Errors += skipped

	s.log.Info("upcoming appointments synced",
		zap.String("system", string(system)),
		zap.Int("rows", len(recs)),
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("errors", stats.Errors))
	return stats, nil
}

func (s *Service) exportUpcoming(ctx context.Context, system mirror.System) ([]reconcile.UpcomingRecord, int, error) {
	sess := portal.NewSession(s.drivers(), s.log)
	if err := sess.EnsureAuthenticated(ctx, system); err != nil {
		return nil, 0, err
	}
	if err := sess.EnsureOnScreen(ctx, portal.ScreenReports); err != nil {
		return nil, 0, err
	}

	data, err := sess.Driver().ExportReport(ctx, portal.ReportUpcoming)
	if err != nil {
		return nil, 0, fmt.Errorf("export upcoming report: %w", err)
	}

	return reconcile.ParseUpcomingReport(data)
}

// SeedPatients pulls the active-patients export for one system and reconciles
// it into the mirror.
func (s *Service) SeedPatients(ctx context.Context, system mirror.System) (reconcile.Stats, error) {
	var stats reconcile.Stats

	sess := portal.NewSession(s.drivers(), s.log)
	if err := sess.EnsureAuthenticated(ctx, system); err != nil {
		return stats, err
	}
	if err := sess.EnsureOnScreen(ctx, portal.ScreenReports); err != nil {
		return stats, err
	}

	data, err := sess.Driver().ExportReport(ctx, portal.ReportActivePatients)
	if err != nil {
		return stats, fmt.Errorf("export active patients report: %w", err)
	}

	recs, skipped, err := reconcile.ParseActivePatientsReport(data)
	if err != nil {
		return stats, err
	}

	stats = s.engine.ReconcilePatients(ctx, system, recs)
	stats.Errors += skipped

	s.log.Info("active patients seeded",
		zap.String("system", string(system)),
		zap.Int("rows", len(recs)),
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("errors", stats.Errors))
	return stats, nil
}
