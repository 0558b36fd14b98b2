package upload

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cocred/internal/blob"
	"cocred/internal/logger"
	"cocred/internal/metrics"
)

// ErrForbidden is returned when a path does not belong to the caller.
var ErrForbidden = errors.New("file belongs to another user")

// File is an uploaded_files row.
type File struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	FileName   string    `json:"file_name"`
	FilePath   string    `json:"file_path"`
	FileSize   int64     `json:"file_size"`
	FileType   string    `json:"file_type"`
	UploadDate time.Time `json:"upload_date"`
}

// Result describes a stored upload.
type Result struct {
	Path      string `json:"path"`
	PublicURL string `json:"public_url"`
	FileName  string `json:"file_name"`
	Size      int64  `json:"file_size"`
	Type      string `json:"file_type"`
}

// Repository persists upload metadata.
type Repository interface {
	InsertFile(ctx context.Context, f File) error
	DeleteFile(ctx context.Context, path string) error
	ListFiles(ctx context.Context, userID string) ([]File, error)
}

// Service stores user files in blob storage and records their metadata.
type Service struct {
	files      blob.Storage
	repo       Repository
	maxBytes   int64
	publicBase string
	now        func() time.Time
	log        zerolog.Logger
}

func NewService(files blob.Storage, repo Repository, maxBytes int64, publicBase string) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Service{
		files:      files,
		repo:       repo,
		maxBytes:   maxBytes,
		publicBase: publicBase,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.Component("upload"),
	}
}

// Upload validates and stores a file under the user's prefix. A metadata
// insert failure is logged and does not fail the upload.
func (s *Service) Upload(ctx context.Context, userID, fileName string, data []byte) (Result, error) {
	contentType, err := Validate(data, s.maxBytes)
	if err != nil {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return Result{}, err
	}
	key := GenerateName(fileName, userID, s.now())
	if err := s.files.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		return Result{}, errors.Wrap(err, "upload failed")
	}
	metrics.Uploads.WithLabelValues("stored").Inc()

	res := Result{
		Path:      key,
		PublicURL: blob.PublicURL(s.publicBase, key),
		FileName:  fileName,
		Size:      int64(len(data)),
		Type:      contentType,
	}
	if err := s.repo.InsertFile(ctx, File{
		UserID:   userID,
		FileName: fileName,
		FilePath: key,
		FileSize: res.Size,
		FileType: contentType,
	}); err != nil {
		s.log.Warn().Err(err).Str("path", key).Msg("file metadata not saved")
	}
	return res, nil
}

// Delete removes the blob and then its metadata row.
func (s *Service) Delete(ctx context.Context, userID, path string) error {
	if !owns(userID, path) {
		return ErrForbidden
	}
	if err := s.files.Delete(ctx, path); err != nil {
		return errors.Wrap(err, "delete failed")
	}
	if err := s.repo.DeleteFile(ctx, path); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("file metadata not deleted")
	}
	return nil
}

// List returns the user's files, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]File, error) {
	return s.repo.ListFiles(ctx, userID)
}

// Download returns the file contents.
func (s *Service) Download(ctx context.Context, userID, path string) ([]byte, error) {
	if !owns(userID, path) {
		return nil, ErrForbidden
	}
	return blob.ReadAll(ctx, s.files, path)
}

func owns(userID, path string) bool {
	return userID != "" && strings.HasPrefix(path, userID+"/") && !strings.Contains(path, "..")
}

// PostgresRepository stores upload metadata in uploaded_files.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) InsertFile(ctx context.Context, f File) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO uploaded_files (id, user_id, file_name, file_path, file_size, file_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (file_path) DO NOTHING
	`, f.ID, f.UserID, f.FileName, f.FilePath, f.FileSize, f.FileType)
	return err
}

func (r *PostgresRepository) DeleteFile(ctx context.Context, path string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM uploaded_files WHERE file_path = $1`, path)
	return err
}

func (r *PostgresRepository) ListFiles(ctx context.Context, userID string) ([]File, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, file_name, file_path, file_size, file_type, upload_date
		FROM uploaded_files
		WHERE user_id = $1
		ORDER BY upload_date DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	files := []File{}
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.UserID, &f.FileName, &f.FilePath, &f.FileSize, &f.FileType, &f.UploadDate); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
