package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cocred/internal/upload"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestSign(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{"timestamp": "100", "public_id": "s1_photo", "api_key": "key", "folder": ""})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("public_id=s1_photo&timestamp=100secret")))
	assert.Equal(t, want, got)
}

func TestUploadSendsSignedForm(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		_, _ = w.Write([]byte(`{"public_id":"cocred/profiles/s1_photo","secure_url":"https://res.test/s1_photo.png","bytes":16}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "cocred/profiles")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	res, err := c.Upload(context.Background(), pngBytes, "me.png", "s1_photo")
	require.NoError(t, err)
	assert.Equal(t, "https://res.test/s1_photo.png", res.SecureURL)
	assert.Equal(t, "1700000000", form["timestamp"])
	assert.Equal(t, "true", form["overwrite"])
	assert.Equal(t, c.sign(map[string]string{
		"timestamp": "1700000000", "folder": "cocred/profiles", "public_id": "s1_photo", "overwrite": "true",
	}), form["signature"])
}

func TestUploadErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	_, err := c.Upload(context.Background(), pngBytes, "me.png", "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Invalid Signature", apiErr.Message)
	assert.Contains(t, err.Error(), "401")
}

func TestDestroy(t *testing.T) {
	results := []string{"ok", "not found", "error"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/destroy", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "s1_photo", r.FormValue("public_id"))
		assert.NotEmpty(t, r.FormValue("signature"))
		res := results[0]
		results = results[1:]
		_, _ = w.Write([]byte(`{"result":"` + res + `"}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	ctx := context.Background()
	assert.NoError(t, c.Destroy(ctx, "s1_photo"))
	assert.NoError(t, c.Destroy(ctx, "s1_photo"))
	assert.Error(t, c.Destroy(ctx, "s1_photo"))
}

type fakeUploader struct{ publicIDs []string }

func (f *fakeUploader) Upload(_ context.Context, data []byte, _ string, publicID string) (*UploadResult, error) {
	f.publicIDs = append(f.publicIDs, publicID)
	return &UploadResult{PublicID: publicID, SecureURL: "https://res.test/" + publicID, Bytes: len(data)}, nil
}

type fakeAvatars map[string]string

func (f fakeAvatars) SetAvatar(_ context.Context, id, url string) error {
	f[id] = url
	return nil
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	up := &fakeUploader{}
	avatars := fakeAvatars{}
	p := NewProfiles(up, avatars, 0)

	_, err := p.Upload(ctx, "s1", KindPhoto, "me.png", pngBytes)
	require.NoError(t, err)
	assert.Equal(t, "https://res.test/s1_photo", avatars["s1"])

	_, err = p.Upload(ctx, "s1", KindSignature, "sig.png", pngBytes)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1_photo", "s1_signature"}, up.publicIDs)
	assert.Equal(t, "https://res.test/s1_photo", avatars["s1"])

	_, err = p.Upload(ctx, "s1", "banner", "b.png", pngBytes)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = p.Upload(ctx, "s1", KindPhoto, "doc.pdf", []byte("%PDF-1.4\n%%EOF\n"))
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = p.Upload(ctx, "s1", KindPhoto, "x.exe", []byte{0x4d, 0x5a, 0x90, 0})
	assert.ErrorIs(t, err, upload.ErrFileType)

	_, err = NewProfiles(nil, avatars, 0).Upload(ctx, "s1", KindPhoto, "me.png", pngBytes)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
