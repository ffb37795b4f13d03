package flow

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/casebot/internal/cases"
	"github.com/opsdesk/casebot/internal/chat"
	"github.com/opsdesk/casebot/internal/chat/chattest"
	"github.com/opsdesk/casebot/internal/config"
	"github.com/opsdesk/casebot/internal/convstore"
	"github.com/opsdesk/casebot/internal/permits"
)

type fakeSheets struct {
	mu     sync.Mutex
	sheets map[string][][]string
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{sheets: make(map[string][][]string)}
}

func (f *fakeSheets) ReadRange(_ context.Context, _, spec string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.sheets[spec]
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (f *fakeSheets) AppendRow(_ context.Context, _, spec string, values []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheets[spec] = append(f.sheets[spec], append([]string(nil), values...))
	return nil
}

func (f *fakeSheets) UpdateCell(_ context.Context, _, spec string, row, col int, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.sheets[spec]
	if row < len(rows) {
		for len(rows[row]) <= col {
			rows[row] = append(rows[row], "")
		}
		rows[row][col] = value
	}
	return nil
}

func (f *fakeSheets) Worksheets(context.Context, string) ([]string, error) {
	return nil, nil
}

type fixture struct {
	engine  *Engine
	store   *fakeSheets
	conv    *convstore.FileStore
	gateway *chattest.Gateway
}

var testChannels = config.ChannelsConfig{
	InvoiceA:         "chan-fa",
	Refund:           "chan-refund",
	MarketplaceClaim: "chan-mp",
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newFakeSheets()
	store.sheets["FacturaA!A:E"] = [][]string{
		{"Número de Pedido", "Fecha/Hora", "Caso", "Email", "Observaciones"},
	}
	store.sheets["Reembolsos!A:E"] = [][]string{
		{"Número de Pedido", "Fecha/Hora", "Motivo de reembolso", "Email", "Observaciones"},
	}

	conv, err := convstore.NewFileStore(filepath.Join(t.TempDir(), "conversations.json"))
	require.NoError(t, err)
	gateway := &chattest.Gateway{}
	repo := cases.NewRepository(store, "sheet-1", map[string]string{
		"invoice_a": "FacturaA!A:E",
		"refund":    "Reembolsos!A:E",
	}, time.UTC)
	gate := permits.NewGate(config.PermissionsConfig{BackOfficeRoleID: "role-bo"})

	engine := NewEngine(repo, conv, gateway, gate, testChannels, 10*time.Minute)
	return &fixture{engine: engine, store: store, conv: conv, gateway: gateway}
}

func slash(command, channelID string) chat.SlashCommand {
	return chat.SlashCommand{
		InteractionID: "int-1/tok",
		UserID:        "u1",
		DisplayName:   "Ana",
		ChannelID:     channelID,
		Member:        chat.Member{UserID: "u1"},
		Command:       command,
	}
}

func (f *fixture) def(t *testing.T, kind cases.Kind) definition {
	t.Helper()
	d, ok := f.engine.defs[kind]
	require.True(t, ok)
	return d
}

func TestCommandInWrongChannelIsRefusedWithoutState(t *testing.T) {
	f := newFixture(t)

	err := f.engine.handleCommand(context.Background(),
		f.def(t, cases.InvoiceA), slash("invoice-a", "chan-other"))
	require.NoError(t, err)

	resp := f.gateway.LastResponse()
	require.NotNil(t, resp)
	assert.True(t, resp.Message.Ephemeral)
	assert.Contains(t, resp.Message.Content, "su canal correspondiente")
	assert.Empty(t, f.gateway.Forms)

	_, ok, _ := f.conv.Get(context.Background(), "u1", string(cases.InvoiceA))
	assert.False(t, ok, "refused invocations leave no dialog state")
}

func TestCommandWithoutSubtypesOpensFormDirectly(t *testing.T) {
	f := newFixture(t)

	err := f.engine.handleCommand(context.Background(),
		f.def(t, cases.InvoiceA), slash("invoice-a", "chan-fa"))
	require.NoError(t, err)

	require.Len(t, f.gateway.Forms, 1)
	assert.Equal(t, "flow:invoice_a:form", f.gateway.Forms[0].CustomID)

	_, ok, _ := f.conv.Get(context.Background(), "u1", string(cases.InvoiceA))
	assert.False(t, ok, "no state until the form comes back")
}

func TestMenuFlowSubtypeThenForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.handleCommand(ctx, f.def(t, cases.Refund), slash("refund", "chan-refund"))
	require.NoError(t, err)

	resp := f.gateway.LastResponse()
	require.NotNil(t, resp)
	require.NotNil(t, resp.Message.Select)
	assert.Equal(t, "flow:refund:subtype", resp.Message.Select.CustomID)

	st, ok, _ := f.conv.Get(ctx, "u1", string(cases.Refund))
	require.True(t, ok)
	assert.Equal(t, StepAwaitingSubtype, st.Step)

	err = f.engine.handleSubtype(ctx, chat.ComponentClick{
		InteractionID: "int-2/tok",
		UserID:        "u1",
		CustomID:      "flow:refund:subtype",
		Values:        []string{"Compra duplicada"},
	})
	require.NoError(t, err)

	require.Len(t, f.gateway.Forms, 1)
	st, ok, _ = f.conv.Get(ctx, "u1", string(cases.Refund))
	require.True(t, ok)
	assert.Equal(t, StepAwaitingForm, st.Step)
	assert.Equal(t, "Compra duplicada", st.Value(KeySubtype))

	err = f.engine.handleForm(ctx, chat.ModalSubmit{
		InteractionID: "int-3/tok",
		UserID:        "u1",
		DisplayName:   "Ana",
		CustomID:      "flow:refund:form",
		Fields: map[string]string{
			"order":        "PED-50",
			"email":        "c@x.io",
			"observations": "compra doble",
		},
	})
	require.NoError(t, err)

	rows := f.store.sheets["Reembolsos!A:E"]
	require.Len(t, rows, 2)
	assert.Equal(t, "PED-50", rows[1][0])
	assert.Equal(t, "Compra duplicada", rows[1][2])
	assert.Equal(t, "c@x.io", rows[1][3])

	_, ok, _ = f.conv.Get(ctx, "u1", string(cases.Refund))
	assert.False(t, ok, "state cleared after persisting")
}

func TestSubtypeClickAfterExpiry(t *testing.T) {
	f := newFixture(t)

	err := f.engine.handleSubtype(context.Background(), chat.ComponentClick{
		InteractionID: "int-9/tok",
		UserID:        "u1",
		CustomID:      "flow:refund:subtype",
		Values:        []string{"Otros"},
	})
	require.NoError(t, err)

	resp := f.gateway.LastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Message.Content, "La sesión expiró")
	assert.Empty(t, f.gateway.Forms)
}

func TestInvoiceAFormParksAwaitingAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.handleForm(ctx, chat.ModalSubmit{
		InteractionID: "int-4/tok",
		UserID:        "u1",
		DisplayName:   "Ana",
		CustomID:      "flow:invoice_a:form",
		Fields: map[string]string{
			"order": "PED-001",
			"case":  "7788",
			"email": "c@x.io",
		},
	})
	require.NoError(t, err)

	require.Len(t, f.store.sheets["FacturaA!A:E"], 2)

	st, ok, _ := f.conv.Get(ctx, "u1", string(cases.InvoiceA))
	require.True(t, ok)
	assert.Equal(t, StepAwaitingAttachments, st.Step)
	assert.Equal(t, "PED-001", st.Value(KeyOrderNumber))
	assert.NotEmpty(t, st.RequestID)

	resp := f.gateway.LastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Message.Content, "<@u1>")
	assert.Contains(t, resp.Message.Content, "subí la factura")
}

func TestDuplicateOrderIsReportedAndClearsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	submit := chat.ModalSubmit{
		InteractionID: "int-5/tok",
		UserID:        "u1",
		DisplayName:   "Ana",
		CustomID:      "flow:invoice_a:form",
		Fields:        map[string]string{"order": "PED-001", "case": "1", "email": "a@b.c"},
	}
	require.NoError(t, f.engine.handleForm(ctx, submit))
	require.NoError(t, f.engine.handleForm(ctx, submit))

	resp := f.gateway.LastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Message.Content, "ya está registrado")
	assert.Len(t, f.store.sheets["FacturaA!A:E"], 2, "only the first submit lands")

	_, ok, _ := f.conv.Get(ctx, "u1", string(cases.InvoiceA))
	assert.False(t, ok)
}

func TestFormValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.handleForm(ctx, chat.ModalSubmit{
		InteractionID: "int-6/tok",
		UserID:        "u1",
		CustomID:      "flow:invoice_a:form",
		Fields:        map[string]string{"case": "1", "email": "a@b.c"},
	})
	require.NoError(t, err)
	resp := f.gateway.LastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Message.Content, "**Número de Pedido** es obligatorio")

	err = f.engine.handleForm(ctx, chat.ModalSubmit{
		InteractionID: "int-7/tok",
		UserID:        "u1",
		CustomID:      "flow:invoice_a:form",
		Fields:        map[string]string{"order": "PED-2", "case": "1", "email": "not-an-email"},
	})
	require.NoError(t, err)
	resp = f.gateway.LastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Message.Content, "no es un email válido")

	assert.Len(t, f.store.sheets["FacturaA!A:E"], 1, "invalid submits never persist")
}

func TestBackOfficeCommandIsGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := slash("marketplace-claim", "chan-mp")
	err := f.engine.handleCommand(ctx, f.def(t, cases.MarketplaceClaim), ev)
	require.NoError(t, err)

	resp := f.gateway.LastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Message.Content, "No tenés permisos")

	// With the role the flow opens normally: marketplace-claim starts at
	// the subtype menu, not the form.
	ev.Member.RoleIDs = []string{"role-bo"}
	err = f.engine.handleCommand(ctx, f.def(t, cases.MarketplaceClaim), ev)
	require.NoError(t, err)

	resp = f.gateway.LastResponse()
	require.NotNil(t, resp)
	require.NotNil(t, resp.Message.Select)
	assert.Equal(t, "flow:marketplace_claim:subtype", resp.Message.Select.CustomID)
	assert.Empty(t, f.gateway.Forms)
}

func TestSearchMatchesWholeOrderNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.sheets["FacturaA!A:E"] = append(f.store.sheets["FacturaA!A:E"],
		[]string{"PED-100", "01-02-2024 09:00:00", "#5", "x@y.z", ""},
		[]string{"PED-1001", "02-02-2024 09:00:00", "#6", "q@y.z", ""},
	)

	ev := slash("buscar-caso", "chan-fa")
	ev.Args = map[string]string{"order": "PED-100"}
	require.NoError(t, f.engine.handleSearch(ctx, ev))

	require.Len(t, f.gateway.Deferred, 1)
	resp := f.gateway.LastResponse()
	require.NotNil(t, resp)
	assert.True(t, resp.FollowUp)
	require.Len(t, resp.Message.Embeds, 1)
	require.Len(t, resp.Message.Embeds[0].Fields, 1, "substring matches excluded")
	assert.Contains(t, resp.Message.Embeds[0].Fields[0].Value, "Caso: #5")

	ev.Args = map[string]string{"order": "PED-404"}
	require.NoError(t, f.engine.handleSearch(ctx, ev))
	resp = f.gateway.LastResponse()
	assert.Contains(t, resp.Message.Content, "No se encontró")
}
