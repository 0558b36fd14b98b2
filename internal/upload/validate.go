package upload

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

var (
	ErrEmptyFile    = errors.New("invalid file")
	ErrFileTooLarge = errors.New("file too large")
	ErrFileType     = errors.New("file type not supported, upload PDF, DOC, DOCX, TXT or image files")
)

// DefaultMaxBytes is the upload size limit when none is configured.
const DefaultMaxBytes = 10 * 1024 * 1024

// AllowedTypes are the accepted MIME types, matched against sniffed content.
var AllowedTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	repeatedUnd = regexp.MustCompile(`_{2,}`)
	trailingExt = regexp.MustCompile(`\.[^/.]+$`)
)

// Validate checks size and sniffed content type and returns the detected MIME type.
func Validate(data []byte, maxBytes int64) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if int64(len(data)) > maxBytes {
		return "", errors.Wrapf(ErrFileTooLarge, "must be less than %dMB", maxBytes/(1024*1024))
	}
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		for _, allowed := range AllowedTypes {
			if m.Is(allowed) {
				return allowed, nil
			}
		}
	}
	return "", errors.Wrapf(ErrFileType, "got %s", detected.String())
}

// Extension returns the text after the last dot of name, or "" when there is none.
func Extension(name string) string {
	base := path.Base(name)
	i := strings.LastIndex(base, ".")
	if i < 0 || i == len(base)-1 {
		return ""
	}
	return base[i+1:]
}

// GenerateName builds the object key userID/<unix millis>_<clean name>.<ext>.
func GenerateName(fileName, userID string, now time.Time) string {
	clean := unsafeChars.ReplaceAllString(fileName, "_")
	clean = repeatedUnd.ReplaceAllString(clean, "_")
	clean = strings.Trim(clean, "_")
	stem := trailingExt.ReplaceAllString(clean, "")

	key := fmt.Sprintf("%s/%d_%s", userID, now.UnixMilli(), stem)
	if ext := Extension(fileName); ext != "" {
		key += "." + ext
	}
	return key
}

// FormatSize renders a byte count as B, KB, MB or GB with two decimals.
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	v := float64(bytes)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
	return s + " " + units[i]
}
