package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/services"
)

const (
	defaultDownloadURLTTL = 15 * time.Minute
	maxDownloadURLTTL     = 7 * 24 * time.Hour
)

var errNoBucket = errors.New("storage: exports bucket is required")

// ExportArchive writes export files to a Cloud Storage bucket under <prefix>/<exportID>/ and
// mirrors each into <prefix>/latest/.
type ExportArchive struct {
	client *gcs.Client
	bucket string
	prefix string
	signer Signer
	urlTTL time.Duration
	now    func() time.Time
}

// ArchiveOption customises ExportArchive.
type ArchiveOption func(*ExportArchive)

// WithDownloadSigner makes archived objects carry V4 signed GET URLs valid for ttl.
func WithDownloadSigner(signer Signer, ttl time.Duration) ArchiveOption {
	return func(a *ExportArchive) {
		if signer == nil || strings.TrimSpace(signer.Email()) == "" {
			return
		}
		a.signer = signer
		if ttl > 0 {
			a.urlTTL = ttl
		}
	}
}

// WithArchiveClock injects the clock used for URL expiry.
func WithArchiveClock(now func() time.Time) ArchiveOption {
	return func(a *ExportArchive) {
		if now != nil {
			a.now = now
		}
	}
}

// NewExportArchive constructs an archive bound to bucket.
func NewExportArchive(client *gcs.Client, bucket, prefix string, opts ...ArchiveOption) (*ExportArchive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errNoBucket
	}
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	archive := &ExportArchive{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		urlTTL: defaultDownloadURLTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(archive)
		}
	}
	if archive.urlTTL > maxDownloadURLTTL {
		archive.urlTTL = maxDownloadURLTTL
	}
	return archive, nil
}

// ArchiveExport uploads files and then refreshes the latest alias. The alias is only touched once
// every upload succeeded, so latest never mixes two exports.
func (a *ExportArchive) ArchiveExport(ctx context.Context, exportID string, files []services.ExportFile) ([]domain.ExportObject, error) {
	if a == nil || a.client == nil {
		return nil, errors.New("storage: export archive not initialised")
	}
	objects := make([]domain.ExportObject, 0, len(files))
	paths := make([]string, 0, len(files))
	for _, file := range files {
		objectPath, err := ExportObjectPath(a.prefix, exportID, file.Name)
		if err != nil {
			return nil, err
		}
		if err := a.write(ctx, objectPath, file); err != nil {
			return nil, fmt.Errorf("storage: write %s: %w", objectPath, err)
		}
		object := domain.ExportObject{Path: fmt.Sprintf("gs://%s/%s", a.bucket, objectPath)}
		if a.signer != nil {
			url, expires, err := a.signedDownloadURL(ctx, objectPath)
			if err != nil {
				return nil, err
			}
			object.DownloadURL = url
			object.URLExpiresAt = expires
		}
		objects = append(objects, object)
		paths = append(paths, objectPath)
	}

	for i, file := range files {
		latest, err := LatestObjectPath(a.prefix, file.Name)
		if err != nil {
			return nil, err
		}
		if err := a.promote(ctx, paths[i], latest); err != nil {
			return nil, fmt.Errorf("storage: promote %s: %w", latest, err)
		}
	}
	return objects, nil
}

func (a *ExportArchive) write(ctx context.Context, objectPath string, file services.ExportFile) error {
	writer := a.client.Bucket(a.bucket).Object(objectPath).NewWriter(ctx)
	writer.ContentType = file.ContentType
	writer.CacheControl = "no-store"
	writer.Metadata = map[string]string{"source": "usermapping"}
	if _, err := writer.Write(file.Data); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// promote overwrites the latest alias with a server-side copy of the archived object.
func (a *ExportArchive) promote(ctx context.Context, from, to string) error {
	bucket := a.client.Bucket(a.bucket)
	_, err := bucket.Object(to).CopierFrom(bucket.Object(from)).Run(ctx)
	return err
}

func (a *ExportArchive) signedDownloadURL(ctx context.Context, objectPath string) (string, time.Time, error) {
	expires := a.now().Add(a.urlTTL)
	url, err := SignedDownloadURL(ctx, a.signer, a.bucket, objectPath, expires)
	return url, expires, err
}

// Check verifies the bucket is reachable.
func (a *ExportArchive) Check(ctx context.Context) error {
	if a == nil || a.client == nil {
		return errors.New("storage: export archive not initialised")
	}
	if _, err := a.client.Bucket(a.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("storage: bucket %s: %w", a.bucket, err)
	}
	return nil
}

// SignedDownloadURL signs a V4 GET URL for bucket/object expiring at expires.
func SignedDownloadURL(ctx context.Context, signer Signer, bucket, object string, expires time.Time) (string, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return "", errors.New("storage: signer is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return "", errNoBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return "", errors.New("storage: object name is required")
	}
	url, err := gcs.SignedURL(bucket, object, &gcs.SignedURLOptions{
		GoogleAccessID: signer.Email(),
		Method:         "GET",
		Expires:        expires,
		Scheme:         gcs.SigningSchemeV4,
		SignBytes: func(payload []byte) ([]byte, error) {
			return signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign download url: %w", err)
	}
	return url, nil
}
