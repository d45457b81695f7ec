// Package export renders the filtered attendee set into the downloadable
// formats the dashboard offers.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"eventdash/internal/viewmodel"
)

func statusLabel(status string) string {
	if status == viewmodel.StatusPresent {
		return "Presente"
	}
	return "Ausente"
}

// CSV renders the attendee list with the sheet headers the organizers expect.
func CSV(rows []viewmodel.AttendeeRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Apellidos y nombres", "Correo de google", "Estado"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := w.Write([]string{row.FullName, row.Email, statusLabel(row.Status)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Filename builds the dated download name for a tab.
func Filename(prefix, tab string, now time.Time) string {
	if tab == "" {
		tab = "todos"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, tab, now.Format("2006-01-02"))
}

// Report renders the plain-text attendance summary.
func Report(rows []viewmodel.AttendeeRow, tab string, now time.Time) []byte {
	tally := viewmodel.Counts(rows)
	var b strings.Builder
	fmt.Fprintf(&b, "REPORTE DE ASISTENCIA - %s\n", strings.ToUpper(tab))
	fmt.Fprintf(&b, "Fecha: %s\n\n", now.Format("02/01/2006"))
	b.WriteString("RESUMEN:\n")
	fmt.Fprintf(&b, "- Total de asistentes: %d\n", tally.Total)
	fmt.Fprintf(&b, "- Presentes: %d\n", tally.Present)
	fmt.Fprintf(&b, "- Ausentes: %d\n\n", tally.Absent)
	b.WriteString("DETALLE:\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "%s | %s | %s\n", row.FullName, row.Email, statusLabel(row.Status))
	}
	return []byte(b.String())
}
