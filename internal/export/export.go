// Package export writes a derived lead view to XLSX or CSV.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lead-engine/internal/model"
)

// SheetName is the worksheet written by XLSX.
const SheetName = "Leads"

const dateLayout = "2006-01-02 15:04"

// column is one exported field.
type column struct {
	header string
	value  func(l model.Lead) string
}

var columns = []column{
	{"ID", func(l model.Lead) string { return l.ID }},
	{"Name", func(l model.Lead) string { return l.DisplayName }},
	{"Contact Numbers", func(l model.Lead) string { return strings.Join(l.ContactNumbers, ", ") }},
	{"Email", func(l model.Lead) string { return l.Email }},
	{"City", func(l model.Lead) string { return l.City }},
	{"Status", func(l model.Lead) string { return l.Status }},
	{"Sub Status", func(l model.Lead) string { return l.SubStatusValue() }},
	{"Category", func(l model.Lead) string { return string(l.Category) }},
	{"Created At", func(l model.Lead) string { return formatTime(l.CreatedAt) }},
	{"Created By", func(l model.Lead) string { return l.CreatedBy }},
	{"Team", func(l model.Lead) string { return l.Team }},
	{"Assigned To", func(l model.Lead) string { return l.AssignedTo }},
	{"Team Leaders", func(l model.Lead) string { return strings.Join(l.TeamLeaders, ", ") }},
	{"Total Income", func(l model.Lead) string { return formatFloat(l.TotalIncome) }},
	{"Loan Amount", func(l model.Lead) string {
		if l.LoanAmount == 0 {
			return ""
		}
		return strconv.FormatFloat(l.LoanAmount, 'f', -1, 64)
	}},
	{"Segment", func(l model.Lead) string { return l.Segment }},
	{"Sent To Login", func(l model.Lead) string { return strconv.FormatBool(l.SentToLogin) }},
	{"Sent To Login At", func(l model.Lead) string {
		if l.SentToLoginAt == nil {
			return ""
		}
		return formatTime(*l.SentToLoginAt)
	}},
}

// Headers lists the exported column headers in order.
func Headers() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.header
	}
	return out
}

// Rows renders leads as string rows, headers excluded.
func Rows(leads []model.Lead) [][]string {
	out := make([][]string, 0, len(leads))
	for _, l := range leads {
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = c.value(l)
		}
		out = append(out, row)
	}
	return out
}

// XLSX writes leads as a single-sheet workbook.
func XLSX(w io.Writer, leads []model.Lead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	header := sheet.AddRow()
	for _, h := range Headers() {
		header.AddCell().SetString(h)
	}
	for i, values := range Rows(leads) {
		row := sheet.AddRow()
		for j, v := range values {
			cell := row.AddCell()
			if income := leads[i].TotalIncome; columns[j].header == "Total Income" && income != nil {
				cell.SetFloat(*income)
				continue
			}
			cell.SetString(v)
		}
	}
	return eris.Wrap(f.Write(w), "export: write xlsx")
}

// CSV writes leads with a header row.
func CSV(w io.Writer, leads []model.Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Headers()); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	if err := cw.WriteAll(Rows(leads)); err != nil {
		return eris.Wrap(err, "export: write csv rows")
	}
	return nil
}

// Format is an export file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts "xlsx" or "csv", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLSX, FormatCSV:
		return f, nil
	case "":
		return FormatXLSX, nil
	}
	return "", eris.Errorf("export: unknown format %q", s)
}

// Write dispatches on format.
func Write(w io.Writer, format Format, leads []model.Lead) error {
	if format == FormatCSV {
		return CSV(w, leads)
	}
	return XLSX(w, leads)
}

// ContentType returns the MIME type for format.
func ContentType(format Format) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
