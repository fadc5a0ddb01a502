// Package drive implements remote.Store on the Google Drive v3 REST API.
// Obtaining and refreshing the access token is left to the caller.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/syftbackup/internal/remote"
	"github.com/openmined/syftbackup/internal/utils"
	"github.com/openmined/syftbackup/internal/version"
)

var ErrNoToken = errors.New("drive: access token missing")

type Config struct {
	// Token is an OAuth2 access token with the drive.file scope.
	Token     string
	BaseURL   string
	UploadURL string
	// RootID is the folder destination paths start from. Defaults to "root" (My Drive).
	RootID     string
	RetryCount int
	Timeout    time.Duration
}

type Store struct {
	client    *req.Client
	uploadURL string
	root      remote.FolderID
}

func New(cfg Config) (*Store, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultUploadURL
	}
	if cfg.RootID == "" {
		cfg.RootID = DefaultRootID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	client := req.C().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetUserAgent(version.UserAgent()).
		SetCommonBearerAuthToken(cfg.Token).
		SetCommonErrorResult(&apiError{}).
		SetCommonRetryCount(cfg.RetryCount).
		SetCommonRetryBackoffInterval(500*time.Millisecond, 5*time.Second).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		}).
		SetTimeout(cfg.Timeout).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &Store{
		client:    client,
		uploadURL: strings.TrimRight(cfg.UploadURL, "/"),
		root:      remote.FolderID(cfg.RootID),
	}, nil
}

func (s *Store) Root() remote.FolderID {
	return s.root
}

func (s *Store) ListFolders(ctx context.Context, name string, parent remote.FolderID) ([]remote.Folder, error) {
	query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeQuery(name), escapeQuery(string(parent)), FolderMimeType)

	var folders []remote.Folder
	pageToken := ""
	for {
		var page fileList
		request := s.client.R().
			SetContext(ctx).
			SetQueryParam("q", query).
			SetQueryParam("fields", listFields).
			SetQueryParam("spaces", "drive").
			SetQueryParam("pageSize", strconv.Itoa(listPageMax)).
			SetSuccessResult(&page)
		if pageToken != "" {
			request.SetQueryParam("pageToken", pageToken)
		}

		resp, err := request.Get(pathFiles)
		if err := handleAPIError(resp, err, "list folders"); err != nil {
			return nil, err
		}

		for _, f := range page.Files {
			folders = append(folders, remote.Folder{
				ID:      remote.FolderID(f.ID),
				Name:    f.Name,
				Trashed: f.Trashed,
			})
		}

		if page.NextPageToken == "" {
			return folders, nil
		}
		pageToken = page.NextPageToken
	}
}

func (s *Store) CreateFolder(ctx context.Context, name string, parent remote.FolderID) (remote.FolderID, error) {
	var created driveFile
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("fields", "id").
		SetBody(&driveFile{
			Name:     name,
			MimeType: FolderMimeType,
			Parents:  []string{string(parent)},
		}).
		SetSuccessResult(&created).
		Post(pathFiles)

	if err := handleAPIError(resp, err, "create folder"); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("create folder %q: empty id in response", name)
	}

	return remote.FolderID(created.ID), nil
}

// UploadFile sends metadata and bytes in a single multipart/related request.
func (s *Store) UploadFile(ctx context.Context, localPath string, parent remote.FolderID) (*remote.UploadedFile, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer file.Close()

	meta, err := jsonMarshal(&driveFile{
		Name:    filepath.Base(localPath),
		Parents: []string{string(parent)},
	})
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	body, contentType := multipartRelated(meta, utils.DetectContentType(localPath), file)

	var uploaded driveFile
	resp, err := s.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetQueryParam("uploadType", "multipart").
		SetQueryParam("fields", fileFields).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		SetSuccessResult(&uploaded).
		Post(s.uploadURL + pathFiles)

	if err := handleAPIError(resp, err, "upload file"); err != nil {
		return nil, err
	}

	size, _ := strconv.ParseInt(uploaded.Size, 10, 64)
	return &remote.UploadedFile{
		ID:   uploaded.ID,
		Name: uploaded.Name,
		Size: size,
		Link: uploaded.WebViewLink,
	}, nil
}

// multipartRelated streams a metadata part followed by the media part.
func multipartRelated(meta []byte, mediaType string, media io.Reader) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeParts(mw, meta, mediaType, media)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, "multipart/related; boundary=" + mw.Boundary()
}

func writeParts(mw *multipart.Writer, meta []byte, mediaType string, media io.Reader) error {
	metaPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return err
	}
	if _, err := metaPart.Write(meta); err != nil {
		return err
	}

	mediaPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {mediaType},
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(mediaPart, media)
	return err
}

func escapeQuery(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}

func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		var cause error = fmt.Errorf("http status %d", resp.StatusCode)
		if apiErr, ok := resp.ErrorResult().(*apiError); ok && apiErr.Err.Code != 0 {
			cause = apiErr
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%s: %w: %w", operation, remote.ErrUnauthorized, cause)
		}
		return fmt.Errorf("%s: %w", operation, cause)
	}

	return nil
}

var _ remote.Store = (*Store)(nil)
