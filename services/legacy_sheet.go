package services

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/extrame/xls"
	"github.com/richardlehane/mscfb"
)

// A BIFF8 sheet has at most 256 columns.
const legacyMaxCols = 256

var errNoWorkbookStream = errors.New("compound file has no Workbook stream")

// readLegacySheet returns the rows of the first sheet of a BIFF8 (.xls) workbook.
// The container is walked with mscfb first: the xls reader exits the process on a
// broken sector chain instead of returning an error.
func readLegacySheet(path string) (rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FormatError{Message: msgUnreadableSheet, Err: err}
	}
	defer f.Close()

	if err := checkCompoundFile(f); err != nil {
		return nil, &FormatError{Message: msgUnreadableSheet, Err: err}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, &FormatError{Message: msgUnreadableSheet, Err: err}
	}

	defer func() {
		if v := recover(); v != nil {
			rows, err = nil, &FormatError{Message: msgUnreadableSheet, Err: fmt.Errorf("malformed workbook: %v", v)}
		}
	}()

	wb, err := xls.OpenReader(f, "utf-8")
	if err != nil {
		return nil, &FormatError{Message: msgUnreadableSheet, Err: err}
	}
	if wb == nil {
		return nil, &FormatError{Message: msgUnreadableSheet, Err: errNoWorkbookStream}
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, &FormatError{Message: msgUnreadableSheet}
	}

	rows = make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		rows = append(rows, legacyRow(sheet, i))
	}
	return rows, nil
}

// checkCompoundFile validates the header, directory and every workbook stream chain.
func checkCompoundFile(f *os.File) error {
	doc, err := mscfb.New(f)
	if err != nil {
		return err
	}

	// The xls reader only understands 512-byte sectors (shift 9).
	var shift [2]byte
	if _, err := f.ReadAt(shift[:], 30); err != nil {
		return err
	}
	if n := binary.LittleEndian.Uint16(shift[:]); n != 9 {
		return fmt.Errorf("unsupported sector shift %d", n)
	}

	found := false
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if entry.Name != "Workbook" && entry.Name != "Book" {
			continue
		}
		if _, err := io.Copy(io.Discard, entry); err != nil {
			return fmt.Errorf("read %s stream: %w", entry.Name, err)
		}
		found = true
	}
	if !found {
		return errNoWorkbookStream
	}
	return nil
}

// legacyRow returns the cells of row i with trailing blanks dropped.
func legacyRow(sheet *xls.WorkSheet, i int) []string {
	row := lookupRow(sheet, i)
	if row == nil {
		return nil
	}
	cells := make([]string, legacyMaxCols)
	last := -1
	for c := range cells {
		if cells[c] = row.Col(c); cells[c] != "" {
			last = c
		}
	}
	return cells[:last+1]
}

// lookupRow returns nil for a row the sheet never defined; WorkSheet.Row
// dereferences the missing entry.
func lookupRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}
