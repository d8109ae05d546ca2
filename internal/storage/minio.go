package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/docedit/docedit/internal/config"
	"github.com/docedit/docedit/internal/document"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// revisionTimeFormat sorts lexically in time order.
const revisionTimeFormat = "20060102T150405.000Z"

// Revision describes one archived document state.
type Revision struct {
	Key       string    `json:"key"`
	UpdatedAt time.Time `json:"updatedAt"`
	Size      int64     `json:"size"`
	URL       string    `json:"url,omitempty"`
}

// RevisionArchive keeps a JSON copy of every persisted document state in a
// MinIO bucket under revisions/<id>/<updatedAt>.json.
type RevisionArchive struct {
	client *minio.Client
	bucket string
}

// NewRevisionArchive creates a MinIO client and ensures the bucket exists.
func NewRevisionArchive(ctx context.Context, cfg config.MinIOConfig) (*RevisionArchive, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	a := &RevisionArchive{client: mc, bucket: cfg.Bucket}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		// ignore "already exists" style errors
		exist, xerr := mc.BucketExists(ctx, a.bucket)
		if xerr != nil || !exist {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return a, nil
}

func revisionPrefix(id string) string { return "revisions/" + id + "/" }

// RevisionKey is the object key for the state of d at d.UpdatedAt.
func RevisionKey(d *document.Document) string {
	return revisionPrefix(d.ID) + d.UpdatedAt.UTC().Format(revisionTimeFormat) + ".json"
}

func parseRevisionKey(key string) (time.Time, bool) {
	i := strings.LastIndex(key, "/")
	if i < 0 || !strings.HasSuffix(key, ".json") {
		return time.Time{}, false
	}
	t, err := time.Parse(revisionTimeFormat, strings.TrimSuffix(key[i+1:], ".json"))
	return t, err == nil
}

// Archive uploads the current state of d.
func (a *RevisionArchive) Archive(ctx context.Context, d *document.Document) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal revision: %w", err)
	}
	_, err = a.client.PutObject(ctx, a.bucket, RevisionKey(d), bytes.NewReader(b), int64(len(b)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put revision: %w", err)
	}
	return nil
}

// List returns the archived revisions of a document, newest first. Each
// revision carries a presigned download URL valid for expires.
func (a *RevisionArchive) List(ctx context.Context, id string, expires time.Duration) ([]Revision, error) {
	out := []Revision{}
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: revisionPrefix(id), Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list revisions: %w", obj.Err)
		}
		ts, ok := parseRevisionKey(obj.Key)
		if !ok {
			continue
		}
		rev := Revision{Key: obj.Key, UpdatedAt: ts, Size: obj.Size}
		if expires > 0 {
			u, err := a.client.PresignedGetObject(ctx, a.bucket, obj.Key, expires, url.Values{})
			if err != nil {
				return nil, fmt.Errorf("presign revision: %w", err)
			}
			rev.URL = u.String()
		}
		out = append(out, rev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Get downloads one archived revision.
func (a *RevisionArchive) Get(ctx context.Context, key string) (*document.Document, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get revision: %w", err)
	}
	defer obj.Close()
	var d document.Document
	if err := json.NewDecoder(obj).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode revision %s: %w", key, err)
	}
	return &d, nil
}

// Ping checks that the bucket is reachable.
func (a *RevisionArchive) Ping(ctx context.Context) error {
	ok, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s missing", a.bucket)
	}
	return nil
}
