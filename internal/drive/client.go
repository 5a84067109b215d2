// SPDX-License-Identifier: MIT

// Package drive synchronizes reference tables with a shared Google Drive
// folder owned by the school's data team. The daemon authenticates as a
// service account; every file it touches must be shared with that account.
package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sirius-college/attendance-monitoring/internal/fsutil"
)

// validRoles are the sharing roles Drive accepts for permission grants.
var validRoles = map[string]bool{
	"reader":        true,
	"writer":        true,
	"commenter":     true,
	"fileOrganizer": true,
	"organizer":     true,
	"owner":         true,
}

const downloadChunkSize = 10 << 20 // ranged download requests

// Options configures the Drive client.
type Options struct {
	// CredentialsFile is the service account key JSON.
	CredentialsFile string
	// FolderID is the shared folder new files are created under.
	FolderID string
	// Extra client options, used by tests to point at a fake server.
	ClientOptions []option.ClientOption
}

// Client wraps the Drive v3 API for the attendance daemon's needs.
type Client struct {
	svc      *drivev3.Service
	folderID string
	logger   zerolog.Logger
}

// New builds a Drive client authenticated as the configured service account.
func New(ctx context.Context, opts Options, logger zerolog.Logger) (*Client, error) {
	clientOpts := opts.ClientOptions
	if len(clientOpts) == 0 {
		if opts.CredentialsFile == "" {
			return nil, fmt.Errorf("%w: no credentials file configured", ErrAuth)
		}
		if err := fsutil.IsRegularFile(opts.CredentialsFile); err != nil {
			return nil, fmt.Errorf("%w: credentials file %s not readable: %v", ErrAuth, opts.CredentialsFile, err)
		}
		clientOpts = []option.ClientOption{
			option.WithCredentialsFile(opts.CredentialsFile),
			option.WithScopes(drivev3.DriveScope),
		}
	}

	svc, err := drivev3.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	logger.Info().
		Str("event", "drive.client_ready").
		Str("folder_id", opts.FolderID).
		Msg("drive client initialized")

	return &Client{svc: svc, folderID: opts.FolderID, logger: logger}, nil
}

// File is a Drive file visible to the service account.
type File struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
	Modified time.Time
}

// List returns every file shared with the service account, following
// pagination until exhausted.
func (c *Client) List(ctx context.Context) ([]File, error) {
	var out []File
	pageToken := ""
	for {
		call := c.svc.Files.List().
			Context(ctx).
			PageSize(1000).
			Fields("nextPageToken, files(id, name, mimeType, size, modifiedTime)")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			return nil, &OpError{Op: "list", Err: err}
		}
		for _, f := range res.Files {
			mod, _ := time.Parse(time.RFC3339, f.ModifiedTime)
			out = append(out, File{
				ID:       f.Id,
				Name:     f.Name,
				MimeType: f.MimeType,
				Size:     f.Size,
				Modified: mod,
			})
		}
		if res.NextPageToken == "" {
			return out, nil
		}
		pageToken = res.NextPageToken
	}
}

// FindByName resolves a file name to its Drive entry. Names are unique
// within the shared folder; the first match wins.
func (c *Client) FindByName(ctx context.Context, name string) (File, error) {
	files, err := c.List(ctx)
	if err != nil {
		return File{}, err
	}
	for _, f := range files {
		if f.Name == name {
			return f, nil
		}
	}
	return File{}, &OpError{
		Op:   "find",
		Name: name,
		Err:  fmt.Errorf("%w: check it's been shared with the service account", ErrNotFound),
	}
}

// Metadata fetches a file's entry by ID. An ID the service account cannot
// see yields ErrNotFound, the same as an unshared file.
func (c *Client) Metadata(ctx context.Context, fileID string) (File, error) {
	f, err := c.svc.Files.Get(fileID).
		Context(ctx).
		Fields("id, name, mimeType, size, modifiedTime").
		Do()
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == 404 {
			return File{}, &OpError{
				Op:   "stat",
				Name: fileID,
				Err:  fmt.Errorf("%w: check it's been shared with the service account", ErrNotFound),
			}
		}
		return File{}, &OpError{Op: "stat", Name: fileID, Err: err}
	}
	mod, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return File{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
		Modified: mod,
	}, nil
}

// Download streams a file's content to w.
func (c *Client) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	res, err := c.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == 404 {
			return 0, &OpError{Op: "download", Name: fileID, Err: ErrNotFound}
		}
		return 0, &OpError{Op: "download", Name: fileID, Err: err}
	}
	defer res.Body.Close()

	var total int64
	buf := make([]byte, downloadChunkSize)
	for {
		n, err := res.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, &OpError{Op: "download", Name: fileID, Err: werr}
			}
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, &OpError{Op: "download", Name: fileID, Err: err}
		}
	}

	c.logger.Debug().
		Str("event", "drive.download").
		Str("file_id", fileID).
		Int64("bytes", total).
		Msg("file downloaded")
	return total, nil
}

// DownloadTo writes a file's content atomically to path.
func (c *Client) DownloadTo(ctx context.Context, fileID, path string) (int64, error) {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return 0, &OpError{Op: "download", Name: fileID, Err: err}
	}
	defer pending.Cleanup() //nolint:errcheck

	n, err := c.Download(ctx, fileID, pending)
	if err != nil {
		return n, err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return n, &OpError{Op: "download", Name: fileID, Err: err}
	}
	return n, nil
}

// Upload replaces the content of an existing Drive file.
func (c *Client) Upload(ctx context.Context, fileID string, r io.Reader) error {
	_, err := c.svc.Files.Update(fileID, &drivev3.File{}).
		Context(ctx).
		Media(r).
		Do()
	if err != nil {
		return &OpError{Op: "upload", Name: fileID, Err: err}
	}
	c.logger.Info().
		Str("event", "drive.upload").
		Str("file_id", fileID).
		Msg("file content replaced")
	return nil
}

// UploadFile replaces a Drive file's content with the local file at path.
func (c *Client) UploadFile(ctx context.Context, fileID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &OpError{Op: "upload", Name: fileID, Err: err}
	}
	defer f.Close()
	return c.Upload(ctx, fileID, f)
}

// CreateInFolder creates a new file under the shared folder and returns its ID.
func (c *Client) CreateInFolder(ctx context.Context, name, mimeType string, r io.Reader) (string, error) {
	meta := &drivev3.File{
		Name:     name,
		MimeType: mimeType,
	}
	if c.folderID != "" {
		meta.Parents = []string{c.folderID}
	}
	created, err := c.svc.Files.Create(meta).Context(ctx).Media(r).Do()
	if err != nil {
		return "", &OpError{Op: "create", Name: name, Err: err}
	}
	c.logger.Info().
		Str("event", "drive.create").
		Str("name", name).
		Str("file_id", created.Id).
		Msg("file created in shared folder")
	return created.Id, nil
}

// Share grants a user access to a file. The role must be one Drive accepts.
func (c *Client) Share(ctx context.Context, fileID, email, role string) error {
	if !validRoles[role] {
		return &OpError{Op: "share", Name: fileID, Err: fmt.Errorf("%w: %q", ErrInvalidRole, role)}
	}
	perm := &drivev3.Permission{
		Type:         "user",
		Role:         role,
		EmailAddress: email,
	}
	_, err := c.svc.Permissions.Create(fileID, perm).Context(ctx).Do()
	if err != nil {
		return &OpError{Op: "share", Name: fileID, Err: err}
	}
	c.logger.Info().
		Str("event", "drive.share").
		Str("file_id", fileID).
		Str("role", role).
		Msg("permission granted")
	return nil
}
