package sheets

import (
	"fmt"
	"strings"
)

// RangeSpec is a parsed range string. The sheet-name prefix is optional:
// "Cambios!A:K" names a worksheet, bare "A:K" means the first worksheet.
type RangeSpec struct {
	Sheet string
	Cells string
}

// ParseRangeSpec splits an "[Sheet Name!]A:K" range string. Sheet names
// containing "!" are not supported; the first separator wins.
func ParseRangeSpec(spec string) RangeSpec {
	spec = strings.TrimSpace(spec)
	if i := strings.Index(spec, "!"); i >= 0 {
		return RangeSpec{
			Sheet: strings.Trim(spec[:i], "'"),
			Cells: spec[i+1:],
		}
	}
	return RangeSpec{Cells: spec}
}

// String renders the spec back into A1 notation, quoting sheet names that
// contain spaces.
func (r RangeSpec) String() string {
	if r.Sheet == "" {
		return r.Cells
	}
	sheet := r.Sheet
	if strings.ContainsAny(sheet, " -") {
		sheet = "'" + sheet + "'"
	}
	if r.Cells == "" {
		return sheet
	}
	return sheet + "!" + r.Cells
}

// CellRef renders the A1 reference of a single cell within the spec's
// worksheet. Row and column are zero-based data coordinates relative to the
// top-left of the range; ranges are assumed to start at row 1, column A.
func (r RangeSpec) CellRef(row, col int) string {
	ref := RangeSpec{Sheet: r.Sheet, Cells: fmt.Sprintf("%s%d", ColumnLetter(col), row+1)}
	return ref.String()
}

// ColumnLetter converts a zero-based column index to its A1 letter form
// (0 → "A", 25 → "Z", 26 → "AA").
func ColumnLetter(col int) string {
	s := ""
	for col >= 0 {
		s = string(rune('A'+col%26)) + s
		col = col/26 - 1
	}
	return s
}
