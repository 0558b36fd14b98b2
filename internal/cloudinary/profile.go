package cloudinary

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cocred/internal/logger"
	"cocred/internal/upload"
)

const (
	KindPhoto     = "photo"
	KindSignature = "signature"
)

var (
	ErrNotConfigured = errors.New("image storage not configured")
	ErrUnknownKind   = errors.New("kind must be photo or signature")
	ErrNotImage      = errors.New("profile images must be JPEG or PNG")
)

// Uploader is the subset of Client used by Profiles.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename, publicID string) (*UploadResult, error)
}

// AvatarStore records a student's profile photo URL.
type AvatarStore interface {
	SetAvatar(ctx context.Context, studentID, url string) error
}

// Profiles stores student profile photos and signatures.
type Profiles struct {
	up       Uploader
	avatars  AvatarStore
	maxBytes int64
	log      zerolog.Logger
}

// NewProfiles returns a service; up may be nil when Cloudinary is not configured.
func NewProfiles(up Uploader, avatars AvatarStore, maxBytes int64) *Profiles {
	return &Profiles{up: up, avatars: avatars, maxBytes: maxBytes, log: logger.Component("cloudinary")}
}

// Upload stores an image of the given kind under a stable public id. Photos
// also become the student's avatar.
func (p *Profiles) Upload(ctx context.Context, studentID, kind, filename string, data []byte) (*UploadResult, error) {
	if p.up == nil {
		return nil, ErrNotConfigured
	}
	if kind != KindPhoto && kind != KindSignature {
		return nil, ErrUnknownKind
	}
	contentType, err := upload.Validate(data, p.maxBytes)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, ErrNotImage
	}

	res, err := p.up.Upload(ctx, data, filename, studentID+"_"+kind)
	if err != nil {
		return nil, err
	}
	if kind == KindPhoto {
		if err := p.avatars.SetAvatar(ctx, studentID, res.SecureURL); err != nil {
			return nil, errors.Wrap(err, "save avatar")
		}
	}
	p.log.Info().Str("student_id", studentID).Str("kind", kind).Int("bytes", res.Bytes).Msg("profile image stored")
	return res, nil
}
