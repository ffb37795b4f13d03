package flow

import (
	"github.com/opsdesk/casebot/internal/cases"
	"github.com/opsdesk/casebot/internal/chat"
	"github.com/opsdesk/casebot/internal/config"
)

// Dialog steps stored in conversation state. StepAwaitingAttachments is
// shared with the attachment linker: an InvoiceA flow parks there after the
// row is written, waiting for the agent's file upload.
const (
	StepAwaitingSubtype     = 1
	StepAwaitingForm        = 2
	StepAwaitingAttachments = 3
)

// Selection keys used in conversation state.
const (
	KeySubtype     = "subtype"
	KeyOrderNumber = "order_number"
	KeyCaseNumber  = "case_number"
)

// fieldKind drives per-input validation on form submit.
type fieldKind int

const (
	fieldText fieldKind = iota
	fieldEmail
)

type formField struct {
	key       string
	label     string
	field     cases.Field
	kind      fieldKind
	required  bool
	paragraph bool
}

// definition describes one intake flow: its command, channel binding, the
// optional subtype menu, and the form shape.
type definition struct {
	kind       cases.Kind
	command    string
	backOffice bool
	fields     []formField
}

func (d definition) hasSubtypes() bool { return len(d.kind.Subtypes()) > 0 }

// channelFor maps a kind to its configured channel id.
func channelFor(ch config.ChannelsConfig, kind cases.Kind) string {
	switch kind {
	case cases.InvoiceA:
		return ch.InvoiceA
	case cases.InvoiceB:
		return ch.InvoiceB
	case cases.CreditNote:
		return ch.CreditNote
	case cases.ChangeReturn:
		return ch.ChangeReturn
	case cases.ShippingRequest:
		return ch.ShippingRequest
	case cases.Refund:
		return ch.Refund
	case cases.Cancellation:
		return ch.Cancellation
	case cases.MarketplaceClaim:
		return ch.MarketplaceClaim
	case cases.MissingPart:
		return ch.MissingPart
	case cases.BankForm:
		return ch.BankForm
	default:
		return ""
	}
}

var (
	orderField = formField{key: "order", label: "Número de Pedido", field: cases.FieldOrderNumber, required: true}
	caseField  = formField{key: "case", label: "Número de Caso", field: cases.FieldCaseNumber, required: true}
	obsField   = formField{key: "observations", label: "Observaciones", field: cases.FieldObservations, paragraph: true}
)

// definitions lists every intake flow in registration order.
var definitions = []definition{
	{
		kind:    cases.InvoiceA,
		command: "invoice-a",
		fields: []formField{
			orderField,
			caseField,
			{key: "email", label: "Email", field: cases.FieldEmail, kind: fieldEmail, required: true},
			obsField,
		},
	},
	{
		kind:    cases.InvoiceB,
		command: "invoice-b",
		fields:  []formField{orderField, obsField},
	},
	{
		kind:    cases.CreditNote,
		command: "credit-note",
		fields:  []formField{orderField, caseField, obsField},
	},
	{
		kind:    cases.ChangeReturn,
		command: "change-return",
		fields: []formField{
			orderField,
			caseField,
			{key: "contact", label: "Datos de Contacto", field: cases.FieldContactData, required: true},
		},
	},
	{
		kind:    cases.ShippingRequest,
		command: "shipping-request",
		fields: []formField{
			orderField,
			{key: "contact", label: "Datos de Contacto", field: cases.FieldContactData},
			obsField,
		},
	},
	{
		kind:    cases.Refund,
		command: "refund",
		fields: []formField{
			orderField,
			{key: "email", label: "Email", field: cases.FieldEmail, kind: fieldEmail, required: true},
			obsField,
		},
	},
	{
		kind:    cases.Cancellation,
		command: "cancellation",
		fields:  []formField{orderField, obsField},
	},
	{
		kind:       cases.MarketplaceClaim,
		command:    "marketplace-claim",
		backOffice: true,
		fields:     []formField{orderField, caseField, obsField},
	},
	{
		kind:    cases.MissingPart,
		command: "missing-part",
		fields: []formField{
			orderField,
			{key: "file_tag", label: "Etiqueta", field: cases.FieldFileTag},
			obsField,
		},
	},
	{
		kind:    cases.BankForm,
		command: "bank-form",
		fields: []formField{
			orderField,
			{key: "email", label: "Email", field: cases.FieldEmail, kind: fieldEmail},
			obsField,
		},
	},
}

func (d definition) form() chat.Form {
	f := chat.Form{
		CustomID: "flow:" + string(d.kind) + ":form",
		Title:    d.kind.Title(),
	}
	for _, fld := range d.fields {
		f.Inputs = append(f.Inputs, chat.FormInput{
			Key:       fld.key,
			Label:     fld.label,
			Required:  fld.required,
			Paragraph: fld.paragraph,
		})
	}
	return f
}

func (d definition) subtypeMenu() *chat.SelectMenu {
	subs := d.kind.Subtypes()
	if len(subs) == 0 {
		return nil
	}
	menu := &chat.SelectMenu{
		CustomID:    "flow:" + string(d.kind) + ":subtype",
		Placeholder: "Elegí el motivo",
	}
	for _, s := range subs {
		menu.Options = append(menu.Options, chat.SelectOption{Label: s, Value: s})
	}
	return menu
}
