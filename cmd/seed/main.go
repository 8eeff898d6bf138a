package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/config"
	"github.com/clinicops/portal-sync/internal/db"
	"github.com/clinicops/portal-sync/internal/mirror"
	"github.com/clinicops/portal-sync/internal/reconcile"
)

// Seeds the mirror with fake patients and a spread of appointments for local
// development against the fake portal driver.
func main() {
	patients := flag.Int("patients", 50, "number of patients to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, _ := zap.NewDevelopment()
	defer log.Sync()

	ctx := context.Background()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres", zap.Error(err))
	}
	defer pool.Close()

	repo := mirror.NewPgRepository(pool)

	professionals := make([]*mirror.Professional, 0, 5)
	for i := 0; i < 5; i++ {
		pr, err := repo.GetOrCreateProfessional(ctx, "Dr. "+gofakeit.LastName(), mirror.SystemPrimary)
		if err != nil {
			log.Fatal("seed professional", zap.Error(err))
		}
		professionals = append(professionals, pr)
	}

	created := 0
	for i := 0; i < *patients; i++ {
		code := int64(1000 + i)
		birth := gofakeit.DateRange(
			time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2010, 12, 31, 0, 0, 0, 0, time.UTC))
		phone := gofakeit.Phone()

		p, err := repo.CreatePatient(ctx, &mirror.Patient{
			Code:       &code,
			System:     mirror.SystemPrimary,
			NationalID: gofakeit.DigitN(11),
			Name:       gofakeit.Name(),
			RawPhone:   phone,
			BirthDate:  &birth,
		})
		if err != nil {
			log.Warn("seed patient", zap.Error(err))
			continue
		}
		created++

		if digits := reconcile.NormalizeDigits(phone); digits != "" {
			if _, err := repo.AddPhoneIfAbsent(ctx, p.ID, digits, "whatsapp", true); err != nil {
				log.Warn("seed phone", zap.Error(err))
			}
		}

		// A few past visits and maybe one upcoming per patient.
		visits := gofakeit.Number(0, 4)
		for v := 0; v < visits; v++ {
			date := gofakeit.DateRange(
				time.Now().AddDate(-1, 0, 0),
				time.Now().AddDate(0, 0, -1)).Truncate(24 * time.Hour)
			prof := professionals[gofakeit.Number(0, len(professionals)-1)]
			if _, err := repo.CreateAppointment(ctx, &mirror.Appointment{
				PatientID:      &p.ID,
				ProfessionalID: &prof.ID,
				System:         mirror.SystemPrimary,
				Date:           date,
				SlotTime:       fmt.Sprintf("%02d:00", gofakeit.Number(8, 17)),
				Status:         mirror.StatusCompleted,
				Procedure:      gofakeit.RandomString([]string{"Consultation", "Follow-up", "Exam"}),
				Channel:        "seed",
			}); err != nil {
				log.Warn("seed appointment", zap.Error(err))
			}
		}
	}

	log.Info("seed finished", zap.Int("patients", created))
}
