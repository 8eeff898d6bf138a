package reconcile

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// The portal's report exports are spreadsheets with a single header row.
// Columns are located by header name, not position; the portal has shuffled
// columns between releases before.

// ParseUpcomingReport parses the upcoming-appointments export. Rows missing a
// code, date or time are dropped and counted in skipped.
func ParseUpcomingReport(data []byte) ([]UpcomingRecord, int, error) {
	rows, header, err := sheetRows(data)
	if err != nil {
		return nil, 0, err
	}

	var (
		recs    []UpcomingRecord
		skipped int
	)

	for _, row := range rows {
		code, err := strconv.ParseInt(strings.TrimSpace(cell(row, header, "Code")), 10, 64)
		if err != nil {
			skipped++
			continue
		}

		rec := UpcomingRecord{
			Code:         code,
			PatientName:  cell(row, header, "Patient"),
			BirthDate:    cell(row, header, "Birth Date"),
			Phone:        cell(row, header, "Phone"),
			Professional: cell(row, header, "Professional"),
			Specialty:    cell(row, header, "Specialty"),
			Date:         cell(row, header, "Date"),
			Time:         cell(row, header, "Time"),
			Status:       cell(row, header, "Status"),
			Procedure:    cell(row, header, "Procedure"),
			FirstVisit:   truthy(cell(row, header, "First Visit")),
			Notes:        cell(row, header, "Notes"),
		}
		if rec.Date == "" || rec.Time == "" {
			skipped++
			continue
		}

		recs = append(recs, rec)
	}

	return recs, skipped, nil
}

// ParseActivePatientsReport parses the active-patients export. Rows without a
// numeric code are dropped and counted in skipped.
func ParseActivePatientsReport(data []byte) ([]PatientRecord, int, error) {
	rows, header, err := sheetRows(data)
	if err != nil {
		return nil, 0, err
	}

	var (
		recs    []PatientRecord
		skipped int
	)

	for _, row := range rows {
		code, err := strconv.ParseInt(strings.TrimSpace(cell(row, header, "Code")), 10, 64)
		if err != nil {
			skipped++
			continue
		}

		recs = append(recs, PatientRecord{
			Code:       code,
			Name:       cell(row, header, "Patient"),
			Phone:      cell(row, header, "Phone"),
			NationalID: cell(row, header, "National ID"),
			BirthDate:  cell(row, header, "Birth Date"),
		})
	}

	return recs, skipped, nil
}

// sheetRows opens the workbook, returns the data rows of the first sheet and
// a header-name -> column index map.
func sheetRows(data []byte) ([][]string, map[string]int, error) {
	x, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("open report: %w", err)
	}
	defer x.Close()

	sheet := x.GetSheetName(0)
	all, err := x.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("read report rows: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("report has no header row")
	}

	header := make(map[string]int, len(all[0]))
	for i, h := range all[0] {
		header[strings.TrimSpace(h)] = i
	}

	return all[1:], header, nil
}

func cell(row []string, header map[string]int, name string) string {
	idx, ok := header[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		return true
	default:
		return false
	}
}
