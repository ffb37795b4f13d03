// Package cases implements the case repository: schema-mapped, duplicate-
// protected inserts into the per-kind sheets, cross-sheet order search, and
// the back-office load confirmation.
package cases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opsdesk/casebot/internal/pkg/logger"
	"github.com/opsdesk/casebot/internal/sheets"
)

// Repository persists case records into the tabular store, one sheet range
// per kind.
type Repository struct {
	store         sheets.Store
	spreadsheetID string
	ranges        map[Kind]string
	loc           *time.Location
	now           func() time.Time
}

// NewRepository builds a Repository. The ranges map is keyed by kind name
// as it appears in configuration.
func NewRepository(store sheets.Store, spreadsheetID string, ranges map[string]string, loc *time.Location) *Repository {
	byKind := make(map[Kind]string, len(ranges))
	for name, spec := range ranges {
		byKind[Kind(name)] = spec
	}
	return &Repository{
		store:         store,
		spreadsheetID: spreadsheetID,
		ranges:        byKind,
		loc:           loc,
		now:           time.Now,
	}
}

// WithClock overrides the repository clock. Tests use this to pin
// timestamps.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

// RangeFor returns the configured range spec for a kind.
func (r *Repository) RangeFor(kind Kind) (string, bool) {
	spec, ok := r.ranges[kind]
	return spec, ok
}

// Insert appends one case row to the kind's sheet.
//
// The header row is read first and every logical field is resolved to a
// column index through normalized alias matching; a required field without
// a column yields a SchemaMismatchError instead of silent column drift.
// Unless the kind allows duplicates, the order-number column is scanned
// case-insensitively before appending. The check and the append are not
// atomic: two simultaneous inserts of the same order can both land. One
// human operator owns an order in practice, so the race is accepted.
func (r *Repository) Insert(ctx context.Context, kind Kind, rec Record) error {
	spec, ok := r.ranges[kind]
	if !ok {
		return fmt.Errorf("no range configured for kind %s", kind)
	}

	rows, err := r.store.ReadRange(ctx, r.spreadsheetID, spec)
	if err != nil {
		return fmt.Errorf("reading %s sheet: %w", kind, err)
	}
	if len(rows) == 0 {
		return &SchemaMismatchError{Column: Aliases(FieldOrderNumber)[0]}
	}
	header := rows[0]

	cols := make(map[Field]int)
	for _, f := range placedFields {
		idx, found := sheets.FindColumn(header, Aliases(f)...)
		if found {
			cols[f] = idx
			continue
		}
		if isRequired(kind, f) {
			return &SchemaMismatchError{Column: Aliases(f)[0]}
		}
	}

	if !duplicatesAllowed[kind] {
		orderCol := cols[FieldOrderNumber]
		for _, row := range rows[1:] {
			if orderCol < len(row) && strings.EqualFold(strings.TrimSpace(row[orderCol]), rec.OrderNumber) {
				return &DuplicateError{OrderNumber: rec.OrderNumber}
			}
		}
	}

	values := map[Field]string{
		FieldOrderNumber:  rec.OrderNumber,
		FieldCaseNumber:   formatCaseNumber(rec.CaseNumber),
		FieldSubtype:      rec.Subtype,
		FieldAgentName:    rec.AgentName,
		FieldContactData:  rec.ContactData,
		FieldEmail:        rec.Email,
		FieldFileTag:      rec.FileTag,
		FieldObservations: rec.Observations,
		FieldTimestamp:    r.now().In(r.loc).Format(TimestampLayout),
		FieldHandler:      DefaultHandler,
		FieldResolved:     DefaultResolved,
	}

	out := make([]string, len(header))
	for f, idx := range cols {
		if v := values[f]; v != "" && idx < len(out) {
			out[idx] = v
		}
	}

	if err := r.store.AppendRow(ctx, r.spreadsheetID, spec, out); err != nil {
		return fmt.Errorf("appending %s row: %w", kind, err)
	}
	return nil
}

// Match is one search hit of an order number in a case sheet.
type Match struct {
	Kind        Kind
	OrderNumber string
	CaseNumber  string
	Subtype     string
	Timestamp   string
	ErrorText   string
	Handler     string
	Resolved    string
}

// Search scans every configured case sheet for rows whose order-number cell
// equals the query (whole string, case-insensitive). Sheets that fail to
// read are logged and skipped so one broken range does not hide the rest.
func (r *Repository) Search(ctx context.Context, order string) ([]Match, error) {
	order = strings.TrimSpace(order)
	var matches []Match

	for _, kind := range AllKinds() {
		spec, ok := r.ranges[kind]
		if !ok {
			continue
		}
		rows, err := r.store.ReadRange(ctx, r.spreadsheetID, spec)
		if err != nil {
			logger.Warn("cases: search skipping sheet", "kind", kind, "error", err)
			continue
		}
		if len(rows) < 2 {
			continue
		}

		header := rows[0]
		orderCol, found := sheets.FindColumn(header, Aliases(FieldOrderNumber)...)
		if !found {
			continue
		}
		get := func(row []string, f Field) string {
			if idx, ok := sheets.FindColumn(header, Aliases(f)...); ok && idx < len(row) {
				return row[idx]
			}
			return ""
		}

		for _, row := range rows[1:] {
			if orderCol >= len(row) || !strings.EqualFold(strings.TrimSpace(row[orderCol]), order) {
				continue
			}
			matches = append(matches, Match{
				Kind:        kind,
				OrderNumber: row[orderCol],
				CaseNumber:  get(row, FieldCaseNumber),
				Subtype:     get(row, FieldSubtype),
				Timestamp:   get(row, FieldTimestamp),
				ErrorText:   get(row, FieldError),
				Handler:     get(row, FieldHandler),
				Resolved:    get(row, FieldResolved),
			})
		}
	}
	return matches, nil
}

// RowRef locates an order's row inside a kind's sheet. RowIndex is the
// zero-based index into the rows returned by ReadRange (header included),
// matching the coordinates UpdateCell expects.
type RowRef struct {
	RowIndex     int
	CaseNumber   string
	Timestamp    string
	loadCheckCol int
	loadCheckVal string
}

// FindOrder looks an order up in the kind's sheet. The boolean reports
// whether a row was found.
func (r *Repository) FindOrder(ctx context.Context, kind Kind, order string) (*RowRef, bool, error) {
	spec, ok := r.ranges[kind]
	if !ok {
		return nil, false, fmt.Errorf("no range configured for kind %s", kind)
	}

	rows, err := r.store.ReadRange(ctx, r.spreadsheetID, spec)
	if err != nil {
		return nil, false, fmt.Errorf("reading %s sheet: %w", kind, err)
	}
	if len(rows) < 2 {
		return nil, false, nil
	}

	header := rows[0]
	orderCol, found := sheets.FindColumn(header, Aliases(FieldOrderNumber)...)
	if !found {
		return nil, false, &SchemaMismatchError{Column: Aliases(FieldOrderNumber)[0]}
	}
	caseCol, _ := sheets.FindColumn(header, Aliases(FieldCaseNumber)...)
	tsCol, _ := sheets.FindColumn(header, Aliases(FieldTimestamp)...)
	loadCol, hasLoad := sheets.FindColumn(header, Aliases(FieldLoadCheck)...)
	if !hasLoad {
		loadCol = -1
	}

	for i, row := range rows[1:] {
		if orderCol >= len(row) || !strings.EqualFold(strings.TrimSpace(row[orderCol]), strings.TrimSpace(order)) {
			continue
		}
		ref := &RowRef{RowIndex: i + 1, loadCheckCol: loadCol}
		if caseCol >= 0 && caseCol < len(row) {
			ref.CaseNumber = row[caseCol]
		}
		if tsCol >= 0 && tsCol < len(row) {
			ref.Timestamp = row[tsCol]
		}
		if loadCol >= 0 && loadCol < len(row) {
			ref.loadCheckVal = row[loadCol]
		}
		return ref, true, nil
	}
	return nil, false, nil
}

// MarkLoaded writes the back-office load confirmation timestamp into the
// order's row. Returns already=true without writing when the cell is
// non-empty, which makes repeated confirmation clicks idempotent.
func (r *Repository) MarkLoaded(ctx context.Context, kind Kind, order, timestamp string) (already bool, err error) {
	spec, ok := r.ranges[kind]
	if !ok {
		return false, fmt.Errorf("no range configured for kind %s", kind)
	}

	ref, found, err := r.FindOrder(ctx, kind, order)
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("pedido %s no encontrado en %s", order, kind.Title())
	}
	if ref.loadCheckCol < 0 {
		return false, &SchemaMismatchError{Column: Aliases(FieldLoadCheck)[0]}
	}
	if strings.TrimSpace(ref.loadCheckVal) != "" {
		return true, nil
	}

	if err := r.store.UpdateCell(ctx, r.spreadsheetID, spec, ref.RowIndex, ref.loadCheckCol, timestamp); err != nil {
		return false, fmt.Errorf("writing load check: %w", err)
	}
	return false, nil
}
