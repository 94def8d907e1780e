package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"slices"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSUploader stores notification attachments in one bucket.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSUploader(client *storage.Client, bucket, prefix string) (*GCSUploader, error) {
	if client == nil {
		return nil, errors.New("gcs client is nil")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	return &GCSUploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

var allowedAttachmentTypes = []string{
	"application/pdf",
	"application/json",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"image/jpeg",
	"image/png",
	"text/csv",
	"text/plain",
}

// attachmentContentType trusts a declared type only when it is on the allow list.
func attachmentContentType(objectName string, data []byte, declared string) (string, error) {
	contentType := strings.TrimSpace(strings.Split(declared, ";")[0])
	if contentType == "" {
		contentType = strings.Split(http.DetectContentType(data), ";")[0]
		switch {
		case contentType == "text/plain" && strings.HasSuffix(objectName, ".csv"):
			contentType = "text/csv"
		case contentType == "application/zip" && strings.HasSuffix(objectName, ".xlsx"):
			contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		}
	}
	if !slices.Contains(allowedAttachmentTypes, contentType) {
		return "", fmt.Errorf("unsupported file type: %s", contentType)
	}
	return contentType, nil
}

func (u *GCSUploader) objectKey(objectName string) string {
	if u.prefix == "" {
		return objectName
	}
	return path.Join(u.prefix, objectName)
}

// UploadBytes writes data and returns its gs:// URL.
func (u *GCSUploader) UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	contentType, err := attachmentContentType(objectName, data, contentType)
	if err != nil {
		return "", err
	}
	key := u.objectKey(objectName)
	wc := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to upload bytes to Google Cloud Storage: %w", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, key), nil
}

// Delete removes an uploaded object; a missing object is not an error.
func (u *GCSUploader) Delete(ctx context.Context, objectName string) error {
	err := u.client.Bucket(u.bucket).Object(u.objectKey(objectName)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}
