package cases

import "fmt"

// DuplicateError reports an insert refused because the order number is
// already present in the kind's sheet.
type DuplicateError struct {
	OrderNumber string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("el pedido %s ya está registrado", e.OrderNumber)
}

// SchemaMismatchError reports a required logical column missing from the
// sheet header. The insert is refused rather than writing into the wrong
// column; the column is never auto-created.
type SchemaMismatchError struct {
	Column string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("columna %q no encontrada en la hoja", e.Column)
}
