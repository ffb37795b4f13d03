package cases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory sheets.Store.
type fakeStore struct {
	mu      sync.Mutex
	sheets  map[string][][]string // keyed by range spec
	readErr map[string]error
	updates []cellUpdate
}

type cellUpdate struct {
	spec     string
	row, col int
	value    string
}

func newFakeStore() *fakeStore {
	return &fakeStore{sheets: make(map[string][][]string), readErr: make(map[string]error)}
}

func (f *fakeStore) ReadRange(_ context.Context, _, spec string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr[spec]; err != nil {
		return nil, err
	}
	rows := f.sheets[spec]
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (f *fakeStore) AppendRow(_ context.Context, _, spec string, values []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheets[spec] = append(f.sheets[spec], append([]string(nil), values...))
	return nil
}

func (f *fakeStore) UpdateCell(_ context.Context, _, spec string, row, col int, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.sheets[spec]
	if row < len(rows) {
		for len(rows[row]) <= col {
			rows[row] = append(rows[row], "")
		}
		rows[row][col] = value
	}
	f.updates = append(f.updates, cellUpdate{spec: spec, row: row, col: col, value: value})
	return nil
}

func (f *fakeStore) Worksheets(context.Context, string) ([]string, error) {
	return nil, nil
}

var testClock = func() time.Time {
	return time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
}

func newTestRepo(store *fakeStore, ranges map[string]string) *Repository {
	return NewRepository(store, "sheet-1", ranges, time.UTC).WithClock(testClock)
}

func TestInsertInvoiceAHappyPath(t *testing.T) {
	store := newFakeStore()
	store.sheets["FacturaA!A:E"] = [][]string{
		{"Número de Pedido", "Fecha/Hora", "Caso", "Email", "Observaciones"},
	}
	repo := newTestRepo(store, map[string]string{"invoice_a": "FacturaA!A:E"})

	err := repo.Insert(context.Background(), InvoiceA, Record{
		OrderNumber:  "PED-001",
		CaseNumber:   "7788",
		Email:        "c@x.io",
		Observations: "ok",
	})
	require.NoError(t, err)

	rows := store.sheets["FacturaA!A:E"]
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"PED-001", "15-03-2024 14:30:00", "#7788", "c@x.io", "ok"}, rows[1])
}

func TestInsertDuplicateRejected(t *testing.T) {
	store := newFakeStore()
	store.sheets["FacturaA!A:E"] = [][]string{
		{"Número de pedido", "Fecha/Hora", "Caso", "Email", "Observaciones"},
		{"PED-001", "01-01-2024 10:00:00", "#1", "a@b.c", ""},
	}
	repo := newTestRepo(store, map[string]string{"invoice_a": "FacturaA!A:E"})

	err := repo.Insert(context.Background(), InvoiceA, Record{
		OrderNumber: "ped-001", // case-insensitive
		CaseNumber:  "7788",
		Email:       "c@x.io",
	})

	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "ped-001", dup.OrderNumber)
	assert.Len(t, store.sheets["FacturaA!A:E"], 2, "no row must be appended")
}

func TestInsertMissingPartAllowsDuplicates(t *testing.T) {
	store := newFakeStore()
	store.sheets["Faltantes!A:C"] = [][]string{
		{"Número de Pedido", "Fecha/Hora", "Observaciones"},
	}
	repo := newTestRepo(store, map[string]string{"missing_part": "Faltantes!A:C"})

	require.NoError(t, repo.Insert(context.Background(), MissingPart,
		Record{OrderNumber: "PED-9", Observations: "falta tornillo"}))
	require.NoError(t, repo.Insert(context.Background(), MissingPart,
		Record{OrderNumber: "PED-9", Observations: "falta manija"}))

	assert.Len(t, store.sheets["Faltantes!A:C"], 3, "both rows must land")
}

func TestInsertSchemaMismatchNamesColumn(t *testing.T) {
	store := newFakeStore()
	store.sheets["FacturaA!A:E"] = [][]string{
		{"Número de Pedido", "Fecha/Hora", "Observaciones"}, // no Caso, no Email
	}
	repo := newTestRepo(store, map[string]string{"invoice_a": "FacturaA!A:E"})

	err := repo.Insert(context.Background(), InvoiceA, Record{
		OrderNumber: "PED-002", CaseNumber: "1", Email: "a@b.c",
	})

	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "Caso", mismatch.Column)
	assert.Len(t, store.sheets["FacturaA!A:E"], 1)
}

func TestInsertFillsDefaults(t *testing.T) {
	store := newFakeStore()
	store.sheets["Cambios!A:G"] = [][]string{
		{"Número de Pedido", "Fecha/Hora", "Solicitud", "Caso", "Datos de Contacto", "Tomado por", "Resuelto"},
	}
	repo := newTestRepo(store, map[string]string{"change_return": "Cambios!A:G"})

	err := repo.Insert(context.Background(), ChangeReturn, Record{
		OrderNumber: "PED-5",
		CaseNumber:  "#42",
		Subtype:     "Cambio por falla",
		ContactData: "11-5555-5555",
	})
	require.NoError(t, err)

	row := store.sheets["Cambios!A:G"][1]
	assert.Equal(t, "Nobody", row[5])
	assert.Equal(t, "No", row[6])
	assert.Equal(t, "#42", row[3], "case number keeps its # prefix")
}

func TestSearchWholeStringCaseInsensitive(t *testing.T) {
	store := newFakeStore()
	store.sheets["FacturaA!A:E"] = [][]string{
		{"Número de Pedido", "Fecha/Hora", "Caso", "Email", "Observaciones"},
		{"PED-100", "01-02-2024 09:00:00", "#5", "x@y.z", ""},
		{"PED-1001", "02-02-2024 09:00:00", "#6", "q@y.z", ""},
	}
	store.sheets["Reembolsos!A:D"] = [][]string{
		{"Pedido", "Fecha/Hora", "Motivo de reembolso", "ERROR"},
		{"ped-100", "03-02-2024 12:00:00", "Arrepentimiento", "missing sku"},
	}
	repo := newTestRepo(store, map[string]string{
		"invoice_a": "FacturaA!A:E",
		"refund":    "Reembolsos!A:D",
	})

	matches, err := repo.Search(context.Background(), "PED-100")
	require.NoError(t, err)
	require.Len(t, matches, 2, "substring match PED-1001 must not appear")

	assert.Equal(t, InvoiceA, matches[0].Kind)
	assert.Equal(t, "#5", matches[0].CaseNumber)
	assert.Equal(t, Refund, matches[1].Kind)
	assert.Equal(t, "missing sku", matches[1].ErrorText)
}

func TestSearchSkipsBrokenSheets(t *testing.T) {
	store := newFakeStore()
	store.sheets["FacturaA!A:E"] = [][]string{
		{"Número de Pedido", "Fecha/Hora", "Caso", "Email", "Observaciones"},
		{"PED-7", "01-02-2024 09:00:00", "#9", "x@y.z", ""},
	}
	store.readErr["Reembolsos!A:D"] = errors.New("boom")
	repo := newTestRepo(store, map[string]string{
		"invoice_a": "FacturaA!A:E",
		"refund":    "Reembolsos!A:D",
	})

	matches, err := repo.Search(context.Background(), "PED-7")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestMarkLoadedIdempotent(t *testing.T) {
	store := newFakeStore()
	store.sheets["FacturaA!A:F"] = [][]string{
		{"Número de Pedido", "Fecha/Hora", "Caso", "Email", "Observaciones", "BO Load Check"},
		{"PED-001", "01-02-2024 09:00:00", "#5", "x@y.z", "", ""},
	}
	repo := newTestRepo(store, map[string]string{"invoice_a": "FacturaA!A:F"})

	already, err := repo.MarkLoaded(context.Background(), InvoiceA, "PED-001", "15-03-2024 14:30:00")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, "15-03-2024 14:30:00", store.sheets["FacturaA!A:F"][1][5])

	already, err = repo.MarkLoaded(context.Background(), InvoiceA, "PED-001", "16-03-2024 10:00:00")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, "15-03-2024 14:30:00", store.sheets["FacturaA!A:F"][1][5], "cell must not be rewritten")
	assert.Len(t, store.updates, 1)
}

func TestFindOrderReturnsRowRef(t *testing.T) {
	store := newFakeStore()
	store.sheets["FacturaA!A:F"] = [][]string{
		{"Número de Pedido", "Fecha/Hora", "Caso", "Email", "Observaciones", "BO Load Check"},
		{"PED-001", "01-02-2024 09:00:00", "#5", "x@y.z", "", ""},
	}
	repo := newTestRepo(store, map[string]string{"invoice_a": "FacturaA!A:F"})

	ref, found, err := repo.FindOrder(context.Background(), InvoiceA, "ped-001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, ref.RowIndex)
	assert.Equal(t, "#5", ref.CaseNumber)
	assert.Equal(t, "01-02-2024 09:00:00", ref.Timestamp)

	_, found, err = repo.FindOrder(context.Background(), InvoiceA, "PED-404")
	require.NoError(t, err)
	assert.False(t, found)
}
