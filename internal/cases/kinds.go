package cases

// Kind is one of the closed set of case categories. Each kind binds to one
// sheet range and one logical-to-physical column mapping.
type Kind string

const (
	InvoiceA         Kind = "invoice_a"
	InvoiceB         Kind = "invoice_b"
	CreditNote       Kind = "credit_note"
	ChangeReturn     Kind = "change_return"
	ShippingRequest  Kind = "shipping_request"
	Refund           Kind = "refund"
	Cancellation     Kind = "cancellation"
	MarketplaceClaim Kind = "marketplace_claim"
	MissingPart      Kind = "missing_part"
	BankForm         Kind = "bank_form"
)

// AllKinds returns every case kind in registration order.
func AllKinds() []Kind {
	return []Kind{
		InvoiceA, InvoiceB, CreditNote, ChangeReturn, ShippingRequest,
		Refund, Cancellation, MarketplaceClaim, MissingPart, BankForm,
	}
}

// Title returns the human-readable Spanish label used in confirmations.
func (k Kind) Title() string {
	switch k {
	case InvoiceA:
		return "Factura A"
	case InvoiceB:
		return "Factura B"
	case CreditNote:
		return "Nota de Crédito"
	case ChangeReturn:
		return "Cambio/Devolución"
	case ShippingRequest:
		return "Solicitud de Envío"
	case Refund:
		return "Reembolso"
	case Cancellation:
		return "Cancelación"
	case MarketplaceClaim:
		return "Reclamo Marketplace"
	case MissingPart:
		return "Falta de Pieza"
	case BankForm:
		return "Formulario Bancario"
	default:
		return string(k)
	}
}

// Subtypes returns the closed subtype list for kinds that present a menu.
// Kinds without a menu return nil. "Otros" is always last.
func (k Kind) Subtypes() []string {
	switch k {
	case InvoiceB:
		return []string{"Factura B", "Cambio de datos de facturación", "Otros"}
	case ChangeReturn:
		return []string{
			"Cambio por falla",
			"Cambio incorrecto",
			"Devolución por arrepentimiento",
			"Producto incompleto",
			"Otros",
		}
	case ShippingRequest:
		return []string{"Reenvío", "Cambio de domicilio", "Retiro", "Otros"}
	case Refund:
		return []string{"Producto fallado", "Compra duplicada", "Arrepentimiento", "Otros"}
	case Cancellation:
		return []string{"Arrepentimiento", "Demora de entrega", "Sin stock", "Otros"}
	case MarketplaceClaim:
		return []string{"Reclamo abierto", "Mediación", "Otros"}
	case BankForm:
		return []string{"Alta de CBU", "Transferencia", "Otros"}
	default:
		return nil
	}
}
