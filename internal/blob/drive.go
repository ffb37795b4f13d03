package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"

	"golang.org/x/oauth2/google"

	"github.com/opsdesk/casebot/internal/config"
	"github.com/opsdesk/casebot/internal/pkg/httpretry"
)

const (
	driveBaseURL   = "https://www.googleapis.com/drive/v3"
	driveUploadURL = "https://www.googleapis.com/upload/drive/v3"
	folderMIME     = "application/vnd.google-apps.folder"

	// How far up the parent chain we look for the shared-drive root when
	// the parent folder itself does not carry a drive id.
	maxParentDepth = 5
)

var driveScopes = []string{"https://www.googleapis.com/auth/drive"}

// DriveStore is a Store backed by the document drive's REST API.
type DriveStore struct {
	httpClient httpretry.HTTPDoer
	baseURL    string
	uploadURL  string
}

// NewDriveStore builds a DriveStore from the service-account credentials
// file shared with the tabular store.
func NewDriveStore(cfg config.BlobConfig, credentialsPath string) (*DriveStore, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(data, driveScopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	base := conf.Client(context.Background())
	base.Timeout = cfg.Timeout()

	return &DriveStore{
		httpClient: httpretry.NewRetryClient(base, 3),
		baseURL:    driveBaseURL,
		uploadURL:  driveUploadURL,
	}, nil
}

// NewDriveStoreWithDoer builds a DriveStore on an explicit HTTPDoer and
// base URLs. Used by tests.
func NewDriveStoreWithDoer(doer httpretry.HTTPDoer, baseURL, uploadURL string) *DriveStore {
	if baseURL == "" {
		baseURL = driveBaseURL
	}
	if uploadURL == "" {
		uploadURL = driveUploadURL
	}
	return &DriveStore{httpClient: doer, baseURL: baseURL, uploadURL: uploadURL}
}

// EnsureFolder finds or creates a folder named name under parentID. Folder
// creation inside a shared drive requires the drive id, which is resolved
// by walking the parent chain.
func (s *DriveStore) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	if id, err := s.findFolder(ctx, parentID, name); err != nil {
		return "", err
	} else if id != "" {
		return id, nil
	}

	driveID, err := s.findDriveID(ctx, parentID, maxParentDepth)
	if err != nil {
		return "", err
	}
	return s.createFolder(ctx, parentID, name, driveID)
}

func (s *DriveStore) findFolder(ctx context.Context, parentID, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		name, parentID, folderMIME)
	params := url.Values{
		"q":                         {q},
		"fields":                    {"files(id,name)"},
		"supportsAllDrives":         {"true"},
		"includeItemsFromAllDrives": {"true"},
	}

	body, err := s.doRequest(ctx, http.MethodGet, s.baseURL+"/files?"+params.Encode(), "", nil)
	if err != nil {
		return "", fmt.Errorf("searching folder %q: %w", name, err)
	}

	var result struct {
		Files []struct {
			ID string `json:"id"`
		} `json:"files"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parsing folder search: %w", err)
	}
	if len(result.Files) > 0 {
		return result.Files[0].ID, nil
	}
	return "", nil
}

// findDriveID walks up the parent chain looking for the shared-drive id.
// Returns the empty string when the folder lives in a personal drive.
func (s *DriveStore) findDriveID(ctx context.Context, folderID string, depth int) (string, error) {
	current := folderID
	for i := 0; i < depth && current != ""; i++ {
		params := url.Values{
			"fields":            {"driveId,parents"},
			"supportsAllDrives": {"true"},
		}
		body, err := s.doRequest(ctx, http.MethodGet,
			s.baseURL+"/files/"+url.PathEscape(current)+"?"+params.Encode(), "", nil)
		if err != nil {
			return "", fmt.Errorf("resolving drive of %s: %w", current, err)
		}

		var meta struct {
			DriveID string   `json:"driveId"`
			Parents []string `json:"parents"`
		}
		if err := json.Unmarshal(body, &meta); err != nil {
			return "", fmt.Errorf("parsing file metadata: %w", err)
		}
		if meta.DriveID != "" {
			return meta.DriveID, nil
		}
		if len(meta.Parents) == 0 {
			return "", nil
		}
		current = meta.Parents[0]
	}
	return "", nil
}

func (s *DriveStore) createFolder(ctx context.Context, parentID, name, driveID string) (string, error) {
	meta := map[string]any{
		"name":     name,
		"mimeType": folderMIME,
		"parents":  []string{parentID},
	}
	if driveID != "" {
		meta["driveId"] = driveID
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding folder metadata: %w", err)
	}

	body, err := s.doRequest(ctx, http.MethodPost,
		s.baseURL+"/files?supportsAllDrives=true", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating folder %q: %w", name, err)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("parsing created folder: %w", err)
	}
	return created.ID, nil
}

// Upload stores content as a file in the folder via a multipart upload.
func (s *DriveStore) Upload(ctx context.Context, folderID, name string, content []byte) error {
	meta := map[string]any{
		"name":    name,
		"parents": []string{folderID},
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding file metadata: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := mw.CreatePart(metaHeader)
	if err != nil {
		return fmt.Errorf("building upload: %w", err)
	}
	part.Write(metaJSON)

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Type", "application/octet-stream")
	part, err = mw.CreatePart(fileHeader)
	if err != nil {
		return fmt.Errorf("building upload: %w", err)
	}
	part.Write(content)
	mw.Close()

	contentType := "multipart/related; boundary=" + mw.Boundary()
	_, err = s.doRequest(ctx, http.MethodPost,
		s.uploadURL+"/files?uploadType=multipart&supportsAllDrives=true", contentType, &buf)
	if err != nil {
		return fmt.Errorf("uploading %q: %w", name, err)
	}
	return nil
}

// ExportText exports a drive document as plain text. The manual assistant
// reads the operations manual through this.
func (s *DriveStore) ExportText(ctx context.Context, fileID string) (string, error) {
	if fileID == "" {
		return "", nil
	}
	body, err := s.doRequest(ctx, http.MethodGet,
		s.baseURL+"/files/"+url.PathEscape(fileID)+"/export?mimeType=text%2Fplain", "", nil)
	if err != nil {
		return "", fmt.Errorf("exporting document %s: %w", fileID, err)
	}
	return string(body), nil
}

func (s *DriveStore) doRequest(ctx context.Context, method, fullURL, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob store error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
