// Package sheets is the typed adapter over the tabular store. It resolves
// "[Sheet Name!]A:K" range specs against concrete worksheets, normalizes
// header names for column lookup, and exposes the read/append/update
// primitives every repository is built on.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"

	"golang.org/x/oauth2/google"

	"github.com/opsdesk/casebot/internal/config"
	"github.com/opsdesk/casebot/internal/pkg/httpretry"
)

// ErrWorksheetNotFound is returned when a range spec names a worksheet the
// spreadsheet does not have. This is a configuration error, not a transient
// failure.
var ErrWorksheetNotFound = errors.New("worksheet not found")

// Store is the tabular-store capability consumed by repositories and the
// surveillance loop. Row coordinates are zero-based indexes into the rows
// returned by ReadRange (row 0 is the header row).
type Store interface {
	ReadRange(ctx context.Context, spreadsheetID, spec string) ([][]string, error)
	AppendRow(ctx context.Context, spreadsheetID, spec string, values []string) error
	UpdateCell(ctx context.Context, spreadsheetID, spec string, row, col int, value string) error
	Worksheets(ctx context.Context, spreadsheetID string) ([]string, error)
}

const defaultBaseURL = "https://sheets.googleapis.com"

var scopes = []string{
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive",
}

// Client is a Store backed by the spreadsheet provider's REST API, using a
// service-account JWT token source and the shared retrying HTTP client.
type Client struct {
	baseURL    string
	httpClient httpretry.HTTPDoer

	mu         sync.Mutex
	worksheets map[string][]string // spreadsheetID → sheet titles
}

// NewClient builds a Client from the service-account credentials file.
// An unreadable or unparsable credentials file is fatal configuration.
func NewClient(cfg config.SheetsConfig) (*Client, error) {
	data, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	base := conf.Client(context.Background())
	base.Timeout = cfg.Timeout()

	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: httpretry.NewRetryClient(base, 3),
		worksheets: make(map[string][]string),
	}, nil
}

// NewClientWithDoer builds a Client on an explicit HTTPDoer and base URL.
// Used by tests and by callers that manage credentials themselves.
func NewClientWithDoer(doer httpretry.HTTPDoer, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: doer,
		worksheets: make(map[string][]string),
	}
}

// Worksheets returns the spreadsheet's worksheet titles in sheet order.
// Titles are cached per spreadsheet for the lifetime of the client.
func (c *Client) Worksheets(ctx context.Context, spreadsheetID string) ([]string, error) {
	c.mu.Lock()
	if titles, ok := c.worksheets[spreadsheetID]; ok {
		c.mu.Unlock()
		return titles, nil
	}
	c.mu.Unlock()

	body, err := c.doRequest(ctx, http.MethodGet,
		fmt.Sprintf("/v4/spreadsheets/%s", spreadsheetID),
		url.Values{"fields": {"sheets.properties.title"}}, nil)
	if err != nil {
		return nil, err
	}

	var meta struct {
		Sheets []struct {
			Properties struct {
				Title string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("parsing spreadsheet metadata: %w", err)
	}

	titles := make([]string, 0, len(meta.Sheets))
	for _, s := range meta.Sheets {
		titles = append(titles, s.Properties.Title)
	}

	c.mu.Lock()
	c.worksheets[spreadsheetID] = titles
	c.mu.Unlock()
	return titles, nil
}

// resolveSpec parses the range spec and pins it to a concrete worksheet:
// the named one when the spec has a prefix, the first worksheet otherwise.
func (c *Client) resolveSpec(ctx context.Context, spreadsheetID, spec string) (RangeSpec, error) {
	r := ParseRangeSpec(spec)
	titles, err := c.Worksheets(ctx, spreadsheetID)
	if err != nil {
		return RangeSpec{}, err
	}
	if len(titles) == 0 {
		return RangeSpec{}, fmt.Errorf("%w: spreadsheet %s has no worksheets", ErrWorksheetNotFound, spreadsheetID)
	}
	if r.Sheet == "" {
		r.Sheet = titles[0]
		return r, nil
	}
	for _, t := range titles {
		if t == r.Sheet {
			return r, nil
		}
	}
	return RangeSpec{}, fmt.Errorf("%w: %q in spreadsheet %s", ErrWorksheetNotFound, r.Sheet, spreadsheetID)
}

// ReadRange reads the range and returns its rows as strings. The provider
// drops trailing empty cells, so rows may be shorter than the header.
func (c *Client) ReadRange(ctx context.Context, spreadsheetID, spec string) ([][]string, error) {
	r, err := c.resolveSpec(ctx, spreadsheetID, spec)
	if err != nil {
		return nil, err
	}

	body, err := c.doRequest(ctx, http.MethodGet,
		fmt.Sprintf("/v4/spreadsheets/%s/values/%s", spreadsheetID, url.PathEscape(r.String())),
		nil, nil)
	if err != nil {
		return nil, err
	}

	var vr struct {
		Values [][]any `json:"values"`
	}
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, fmt.Errorf("parsing value range: %w", err)
	}

	rows := make([][]string, len(vr.Values))
	for i, raw := range vr.Values {
		row := make([]string, len(raw))
		for j, cell := range raw {
			row[j] = fmt.Sprint(cell)
		}
		rows[i] = row
	}
	return rows, nil
}

// AppendRow appends one row after the last data row of the range.
func (c *Client) AppendRow(ctx context.Context, spreadsheetID, spec string, values []string) error {
	r, err := c.resolveSpec(ctx, spreadsheetID, spec)
	if err != nil {
		return err
	}

	payload := map[string]any{"values": [][]string{values}}
	_, err = c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/v4/spreadsheets/%s/values/%s:append", spreadsheetID, url.PathEscape(r.String())),
		url.Values{"valueInputOption": {"USER_ENTERED"}}, payload)
	return err
}

// UpdateCell writes a single cell. Row and column are zero-based data
// coordinates within the range (row 0 = header row).
func (c *Client) UpdateCell(ctx context.Context, spreadsheetID, spec string, row, col int, value string) error {
	r, err := c.resolveSpec(ctx, spreadsheetID, spec)
	if err != nil {
		return err
	}

	payload := map[string]any{"values": [][]string{{value}}}
	_, err = c.doRequest(ctx, http.MethodPut,
		fmt.Sprintf("/v4/spreadsheets/%s/values/%s", spreadsheetID, url.PathEscape(r.CellRef(row, col))),
		url.Values{"valueInputOption": {"USER_ENTERED"}}, payload)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, payload any) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tabular store error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
