package attach

import (
	"context"
	"errors"
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
	"github.com/opsdesk/casebot/internal/flow"
	"github.com/opsdesk/casebot/internal/permits"
)

type fakeBlobs struct {
	mu        sync.Mutex
	folders   map[string]string // parent/name -> id
	uploads   map[string][]string
	uploadErr map[string]error // keyed by file name
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		folders:   make(map[string]string),
		uploads:   make(map[string][]string),
		uploadErr: make(map[string]error),
	}
}

func (f *fakeBlobs) EnsureFolder(_ context.Context, parentID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := parentID + "/" + name
	if id, ok := f.folders[key]; ok {
		return id, nil
	}
	id := "folder:" + name
	f.folders[key] = id
	return id, nil
}

func (f *fakeBlobs) Upload(_ context.Context, folderID, name string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.uploadErr[name]; err != nil {
		return err
	}
	f.uploads[folderID] = append(f.uploads[folderID], name)
	return nil
}

type fakeSheets struct {
	mu     sync.Mutex
	sheets map[string][][]string
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
	f.sheets[spec] = append(f.sheets[spec], values)
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
	linker  *Linker
	conv    *convstore.FileStore
	blobs   *fakeBlobs
	sheets  *fakeSheets
	gateway *chattest.Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sheets := &fakeSheets{sheets: map[string][][]string{
		"FacturaA!A:F": {
			{"Número de Pedido", "Fecha/Hora", "Caso", "Email", "Observaciones", "BO Load Check"},
			{"PED-001", "01-02-2024 09:00:00", "#5", "x@y.z", "", ""},
		},
	}}
	conv, err := convstore.NewFileStore(filepath.Join(t.TempDir(), "conversations.json"))
	require.NoError(t, err)
	blobs := newFakeBlobs()
	gateway := &chattest.Gateway{Files: map[string][]byte{
		"https://cdn/factura.pdf": []byte("pdf"),
		"https://cdn/anexo.png":   []byte("png"),
	}}
	repo := cases.NewRepository(sheets, "sheet-1",
		map[string]string{"invoice_a": "FacturaA!A:F"}, time.UTC)
	gate := permits.NewGate(config.PermissionsConfig{BackOfficeRoleID: "role-bo"})

	linker := NewLinker(conv, blobs, repo, gateway, gate, "parent-1", "chan-fa", 10*time.Minute, time.UTC).
		WithUploadDelay(0).
		WithClock(func() time.Time { return time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC) })
	return &fixture{linker: linker, conv: conv, blobs: blobs, sheets: sheets, gateway: gateway}
}

func (f *fixture) parkState(t *testing.T) {
	t.Helper()
	require.NoError(t, f.conv.Put(context.Background(), convstore.State{
		UserID:     "u1",
		FlowKind:   string(cases.InvoiceA),
		Step:       flow.StepAwaitingAttachments,
		Selections: map[string]string{flow.KeyOrderNumber: "PED-001", flow.KeyCaseNumber: "#5"},
		RequestID:  "u1_abcd1234_1",
	}))
}

func upload(urls ...string) chat.AttachmentMessage {
	ev := chat.AttachmentMessage{
		MessageID:   "m1",
		UserID:      "u1",
		DisplayName: "Ana",
		ChannelID:   "chan-fa",
	}
	for _, u := range urls {
		ev.Attachments = append(ev.Attachments, chat.Attachment{
			Name: filepath.Base(u), URL: u,
		})
	}
	return ev
}

func TestHandleMessageUploadsIntoOrderFolder(t *testing.T) {
	f := newFixture(t)
	f.parkState(t)

	err := f.linker.HandleMessage(context.Background(),
		upload("https://cdn/factura.pdf", "https://cdn/anexo.png"))
	require.NoError(t, err)

	assert.Contains(t, f.blobs.folders, "parent-1/FacturaA_PED-001")
	assert.Equal(t, []string{"factura.pdf", "anexo.png"}, f.blobs.uploads["folder:FacturaA_PED-001"])

	// Summary plus the confirmation artifact with the load button.
	require.Len(t, f.gateway.Messages, 2)
	assert.Contains(t, f.gateway.Messages[0].Message.Content, "✅ factura.pdf")
	confirmMsg := f.gateway.Messages[1].Message
	require.Len(t, confirmMsg.Buttons, 1)
	assert.Equal(t, "attach:loaded:PED-001", confirmMsg.Buttons[0].CustomID)
	require.Len(t, confirmMsg.Embeds, 1)
	assert.Equal(t, "📎 Factura A adjuntada", confirmMsg.Embeds[0].Title)

	_, ok, _ := f.conv.Get(context.Background(), "u1", string(cases.InvoiceA))
	assert.False(t, ok, "state consumed by the first message")
}

func TestHandleMessageIgnoresWithoutParkedState(t *testing.T) {
	f := newFixture(t)

	err := f.linker.HandleMessage(context.Background(), upload("https://cdn/factura.pdf"))
	require.NoError(t, err)
	assert.Empty(t, f.gateway.Messages)
	assert.Empty(t, f.blobs.uploads)
}

func TestHandleMessageIgnoresOtherChannels(t *testing.T) {
	f := newFixture(t)
	f.parkState(t)

	ev := upload("https://cdn/factura.pdf")
	ev.ChannelID = "chan-other"
	require.NoError(t, f.linker.HandleMessage(context.Background(), ev))

	assert.Empty(t, f.gateway.Messages)
	_, ok, _ := f.conv.Get(context.Background(), "u1", string(cases.InvoiceA))
	assert.True(t, ok, "state stays parked for the right channel")
}

func TestHandleMessageIgnoresExpiredState(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	f.conv.WithClock(func() time.Time { return base })
	f.parkState(t)
	f.conv.WithClock(func() time.Time { return base.Add(30 * time.Minute) })

	err := f.linker.HandleMessage(context.Background(), upload("https://cdn/factura.pdf"))
	require.NoError(t, err)

	assert.Empty(t, f.blobs.uploads, "a dialog older than the TTL must not be honored")
	assert.Empty(t, f.gateway.Messages)
	_, ok, _ := f.conv.Get(context.Background(), "u1", string(cases.InvoiceA))
	assert.False(t, ok, "the stale dialog is swept")
}

func TestSecondMessageFindsNothing(t *testing.T) {
	f := newFixture(t)
	f.parkState(t)
	ctx := context.Background()

	require.NoError(t, f.linker.HandleMessage(ctx, upload("https://cdn/factura.pdf")))
	sent := len(f.gateway.Messages)

	require.NoError(t, f.linker.HandleMessage(ctx, upload("https://cdn/anexo.png")))
	assert.Len(t, f.gateway.Messages, sent, "consumed state ignores later messages")
}

func TestPartialUploadFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.parkState(t)
	f.blobs.uploadErr["anexo.png"] = errors.New("quota exceeded")

	err := f.linker.HandleMessage(context.Background(),
		upload("https://cdn/factura.pdf", "https://cdn/anexo.png"))
	require.NoError(t, err)

	summary := f.gateway.Messages[0].Message.Content
	assert.Contains(t, summary, "✅ factura.pdf")
	assert.Contains(t, summary, "❌ anexo.png (falló la subida)")

	// One file made it, so the confirmation still goes out.
	require.Len(t, f.gateway.Messages, 2)
}

func TestHandleLoadedGateAndIdempotence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	click := chat.ComponentClick{
		InteractionID: "int-1/tok",
		UserID:        "u9",
		DisplayName:   "Bo",
		CustomID:      "attach:loaded:PED-001",
		Member:        chat.Member{UserID: "u9"},
	}

	require.NoError(t, f.linker.handleLoaded(ctx, click))
	resp := f.gateway.LastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Message.Content, "Solo Back Office")

	click.Member.RoleIDs = []string{"role-bo"}
	require.NoError(t, f.linker.handleLoaded(ctx, click))
	resp = f.gateway.LastResponse()
	assert.Contains(t, resp.Message.Content, "marcada como cargada por Bo")
	assert.Equal(t, "15-03-2024 14:30:00", f.sheets.sheets["FacturaA!A:F"][1][5])

	require.NoError(t, f.linker.handleLoaded(ctx, click))
	resp = f.gateway.LastResponse()
	assert.Contains(t, resp.Message.Content, "ya estaba confirmado")
	assert.Equal(t, "15-03-2024 14:30:00", f.sheets.sheets["FacturaA!A:F"][1][5],
		"stamp must not change on repeat clicks")
}
