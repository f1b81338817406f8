package services

import (
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// emailColumn is the header the first sheet must carry.
const emailColumn = "Email"

// ExtractSpreadsheet reads the Email column of the first sheet of the workbook at path.
// Both .xlsx and legacy .xls workbooks are accepted. Whitespace-only cells are skipped,
// other cells pass through untouched and row order is kept. A sheet whose header row
// lacks an Email cell is a FormatError even when it has no data rows; a completely
// empty sheet yields no candidates.
func ExtractSpreadsheet(path string) ([]string, error) {
	rows, err := readFirstSheet(path)
	if err != nil {
		return nil, err
	}

	// Leading blank rows carry no header.
	for len(rows) > 0 && isBlankRow(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return []string{}, nil
	}

	col := -1
	for i, cell := range rows[0] {
		if cell == emailColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, &FormatError{Message: msgMissingColumn}
	}

	emails := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		if v := row[col]; strings.TrimSpace(v) != "" {
			emails = append(emails, v)
		}
	}
	return emails, nil
}

func readFirstSheet(path string) ([][]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".xls") {
		return readLegacySheet(path)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &FormatError{Message: msgUnreadableSheet, Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &FormatError{Message: msgUnreadableSheet}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &FormatError{Message: msgUnreadableSheet, Err: err}
	}
	return rows, nil
}

// SplitManual splits a comma-separated list, trimming pieces and dropping empty ones.
func SplitManual(s string) []string {
	parts := strings.Split(s, ",")
	emails := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			emails = append(emails, p)
		}
	}
	return emails
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
