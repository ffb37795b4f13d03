package cases

// Field is a logical column name. Physical placement is resolved per sheet
// by normalized header match against the alias lists below.
type Field string

const (
	FieldOrderNumber  Field = "order_number"
	FieldCaseNumber   Field = "case_number"
	FieldSubtype      Field = "subtype"
	FieldAgentName    Field = "agent_name"
	FieldContactData  Field = "contact_data"
	FieldEmail        Field = "email"
	FieldFileTag      Field = "file_tag"
	FieldObservations Field = "observations"
	FieldTimestamp    Field = "timestamp"
	FieldHandler      Field = "backoffice_handler"
	FieldResolved     Field = "resolved"
	FieldError        Field = "error"
	FieldNotifiedAt   Field = "notified_at"
	FieldLoadCheck    Field = "load_check"
)

// fieldAliases maps each logical field to the header spellings seen across
// the production sheets. Matching is normalization-insensitive, so aliases
// only need to differ beyond casing and whitespace.
var fieldAliases = map[Field][]string{
	FieldOrderNumber:  {"Número de Pedido", "Numero de Pedido", "N° de Pedido", "Pedido"},
	FieldCaseNumber:   {"Caso", "Número de Caso", "Numero de Caso"},
	FieldSubtype:      {"Solicitud", "Motivo de reembolso", "Motivo"},
	FieldAgentName:    {"Agente", "Nombre del Agente", "Cargado por"},
	FieldContactData:  {"Datos de Contacto", "Contacto"},
	FieldEmail:        {"Email", "Correo", "Mail"},
	FieldFileTag:      {"Etiqueta", "Archivo"},
	FieldObservations: {"Observaciones", "Observacion", "Observación"},
	FieldTimestamp:    {"Fecha/Hora", "Fecha y Hora", "Fecha"},
	FieldHandler:      {"Tomado por", "Back Office"},
	FieldResolved:     {"Resuelto"},
	FieldError:        {"ERROR"},
	FieldNotifiedAt:   {"ErrorEnvioCheck"},
	FieldLoadCheck:    {"BO Load Check"},
}

// Aliases returns the header spellings for a logical field.
func Aliases(f Field) []string {
	return fieldAliases[f]
}

// Defaults applied on insert wherever the column exists in the sheet.
const (
	DefaultHandler  = "Nobody"
	DefaultResolved = "No"
)
