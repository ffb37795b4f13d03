package cases

import "strings"

// Record holds the fields captured for a case. Each kind uses a subset;
// unused fields stay empty and are simply not placed.
type Record struct {
	OrderNumber  string
	CaseNumber   string
	Subtype      string
	AgentName    string
	ContactData  string
	Email        string
	FileTag      string
	Observations string
}

// TimestampLayout is the canonical wall-clock format written into case
// sheets.
const TimestampLayout = "02-01-2006 15:04:05"

// requiredFields lists, per kind, the logical columns that must resolve in
// the sheet header for an insert to proceed. Every other known field is
// placed opportunistically where its column exists.
var requiredFields = map[Kind][]Field{
	InvoiceA:         {FieldOrderNumber, FieldTimestamp, FieldCaseNumber, FieldEmail},
	InvoiceB:         {FieldOrderNumber, FieldTimestamp, FieldSubtype},
	CreditNote:       {FieldOrderNumber, FieldTimestamp, FieldCaseNumber},
	ChangeReturn:     {FieldOrderNumber, FieldTimestamp, FieldSubtype, FieldCaseNumber, FieldContactData},
	ShippingRequest:  {FieldOrderNumber, FieldTimestamp, FieldSubtype},
	Refund:           {FieldOrderNumber, FieldTimestamp, FieldSubtype, FieldEmail},
	Cancellation:     {FieldOrderNumber, FieldTimestamp, FieldSubtype},
	MarketplaceClaim: {FieldOrderNumber, FieldTimestamp, FieldSubtype, FieldCaseNumber},
	MissingPart:      {FieldOrderNumber, FieldTimestamp},
	BankForm:         {FieldOrderNumber, FieldTimestamp, FieldSubtype},
}

// duplicatesAllowed flags kinds whose sheets may hold several rows per
// order. One order can be missing several parts.
var duplicatesAllowed = map[Kind]bool{
	MissingPart: true,
}

// placedFields is the full set of logical columns an insert may fill.
var placedFields = []Field{
	FieldOrderNumber, FieldCaseNumber, FieldSubtype, FieldAgentName,
	FieldContactData, FieldEmail, FieldFileTag, FieldObservations,
	FieldTimestamp, FieldHandler, FieldResolved,
}

// formatCaseNumber normalizes a case number to the "#1234" form the sheets
// use.
func formatCaseNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "#") {
		return s
	}
	return "#" + s
}

func isRequired(kind Kind, f Field) bool {
	for _, r := range requiredFields[kind] {
		if r == f {
			return true
		}
	}
	return false
}
