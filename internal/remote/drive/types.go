package drive

import "fmt"

const (
	DefaultBaseURL   = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
	DefaultRootID    = "root"
	FolderMimeType   = "application/vnd.google-apps.folder"

	pathFiles   = "/files"
	listFields  = "nextPageToken, files(id, name, trashed)"
	fileFields  = "id, name, size, webViewLink"
	listPageMax = 100
)

type driveFile struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name,omitempty"`
	MimeType    string   `json:"mimeType,omitempty"`
	Parents     []string `json:"parents,omitempty"`
	Trashed     bool     `json:"trashed,omitempty"`
	Size        string   `json:"size,omitempty"`
	WebViewLink string   `json:"webViewLink,omitempty"`
}

type fileList struct {
	NextPageToken string      `json:"nextPageToken"`
	Files         []driveFile `json:"files"`
}

// apiError is the error envelope of the Drive API.
type apiError struct {
	Err struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("drive api error: %d %s", e.Err.Code, e.Err.Message)
}
