package sheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeaderStability(t *testing.T) {
	// Every variant must resolve to the same canonical form.
	variants := []string{
		"Número de Pedido",
		"  Número de Pedido  ",
		"NÚMERO DE PEDIDO",
		"número de pedido",
		"\u200bNúmero de Pedido", // leading zero-width space
		"Número de\u200b Pedido", // embedded zero-width space
		"\ufeffNúmero de Pedido", // BOM
		"Número de Pedido\u200d", // zero-width joiner
		"Número\u00a0de\u00a0Pedido", // non-breaking spaces
		"\tNúmero de Pedido\n",
	}
	want := NormalizeHeader("Número de Pedido")
	for _, v := range variants {
		assert.Equal(t, want, NormalizeHeader(v), "variant %q", v)
	}
}

func TestFindColumnWithVariants(t *testing.T) {
	headers := []string{"Fecha/Hora", "\u200bNúmero de Pedido ", "CASO", "Email"}

	idx, ok := FindColumn(headers, "Número de Pedido")
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	idx, ok = FindColumn(headers, "Caso")
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	// Alias list: first matching column wins.
	idx, ok = FindColumn(headers, "Pedido", "Número de Pedido")
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = FindColumn(headers, "Observaciones")
	assert.False(t, ok)
}

func TestParseRangeSpec(t *testing.T) {
	tests := []struct {
		in    string
		sheet string
		cells string
	}{
		{"Cambios!A:K", "Cambios", "A:K"},
		{"'Nota de Credito'!A:F", "Nota de Credito", "A:F"},
		{"A:K", "", "A:K"},
		{"  Reembolsos!A1:C10 ", "Reembolsos", "A1:C10"},
	}
	for _, tc := range tests {
		got := ParseRangeSpec(tc.in)
		assert.Equal(t, tc.sheet, got.Sheet, tc.in)
		assert.Equal(t, tc.cells, got.Cells, tc.in)
	}
}

func TestRangeSpecString(t *testing.T) {
	assert.Equal(t, "Cambios!A:K", RangeSpec{Sheet: "Cambios", Cells: "A:K"}.String())
	assert.Equal(t, "'Nota de Credito'!A:F", RangeSpec{Sheet: "Nota de Credito", Cells: "A:F"}.String())
	assert.Equal(t, "A:K", RangeSpec{Cells: "A:K"}.String())
}

func TestCellRef(t *testing.T) {
	spec := RangeSpec{Sheet: "Cambios", Cells: "A:K"}
	assert.Equal(t, "Cambios!A1", spec.CellRef(0, 0))
	assert.Equal(t, "Cambios!C4", spec.CellRef(3, 2))
	assert.Equal(t, "AA10", RangeSpec{Cells: "A:AB"}.CellRef(9, 26))
}

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", ColumnLetter(0))
	assert.Equal(t, "Z", ColumnLetter(25))
	assert.Equal(t, "AA", ColumnLetter(26))
	assert.Equal(t, "AZ", ColumnLetter(51))
}
