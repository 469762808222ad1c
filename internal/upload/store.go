// Package upload stores attachment and avatar blobs in an embedded bbolt
// file and serves them back by storage id.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/observ"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("upload not found")
	ErrTooLarge = errors.New("upload too large")
	ErrEmpty    = errors.New("upload is empty")
)

var (
	bucketBlobs = []byte("blobs")
	bucketMeta  = []byte("meta")
)

// Blob is a stored upload with its descriptor.
type Blob struct {
	models.Attachment
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	Data      []byte    `json:"-"`
}

type Store struct {
	db       *bbolt.DB
	maxBytes int64
	baseURL  string
	logger   *zap.Logger
}

// Open opens or creates the bbolt file at path. URLs of stored blobs are
// built as baseURL + "/v1/uploads/" + id.
func Open(path string, maxBytes int64, baseURL string, logger *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open upload db %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketBlobs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create upload buckets: %w", err)
	}

	logger = observ.Component(logger, "upload")
	logger.Info("upload store opened", zap.String("path", path), zap.Int64("max_bytes", maxBytes))
	return &Store{
		db:       db,
		maxBytes: maxBytes,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Put stores data and returns its attachment descriptor. The MIME type is
// sniffed from the content, not trusted from the client.
func (s *Store) Put(ctx context.Context, originalName string, data []byte) (*models.Attachment, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), s.maxBytes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.NewString() + strings.ToLower(filepath.Ext(originalName))
	blob := Blob{
		Attachment: models.Attachment{
			URL:          s.URL(id),
			StorageID:    id,
			OriginalName: filepath.Base(originalName),
			MimeType:     mimetype.Detect(data).String(),
		},
		Size:      int64(len(data)),
		CreatedAt: time.Now().UTC(),
	}
	meta, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("encode upload meta: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketBlobs).Put([]byte(id), data); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(id), meta)
	})
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	s.logger.Debug("upload stored", zap.String("id", id), zap.String("mime", blob.MimeType), zap.Int64("size", blob.Size))
	att := blob.Attachment
	return &att, nil
}

// Get returns the blob with its data. ErrNotFound if id is unknown.
func (s *Store) Get(ctx context.Context, id string) (*Blob, error) {
	var blob Blob
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta).Get([]byte(id))
		if meta == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(meta, &blob); err != nil {
			return fmt.Errorf("decode upload meta: %w", err)
		}
		// Values are only valid inside the transaction.
		blob.Data = append([]byte(nil), tx.Bucket(bucketBlobs).Get([]byte(id))...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &blob, nil
}

func (s *Store) URL(id string) string {
	return s.baseURL + "/v1/uploads/" + id
}
