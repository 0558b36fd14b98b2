// Package cloudinary uploads student profile images through Cloudinary's signed REST API.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultBaseURL = "https://api.cloudinary.com/v1_1"

// unsigned parameters never take part in the request signature.
var unsigned = map[string]bool{"api_key": true, "file": true, "resource_type": true, "signature": true}

// Client talks to one Cloudinary cloud.
type Client struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	BaseURL   string
	HTTP      *http.Client
	now       func() time.Time
}

func New(cloudName, apiKey, apiSecret, folder string) *Client {
	return &Client{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		BaseURL:   defaultBaseURL,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// UploadResult is the subset of the upload response the service keeps.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
}

// APIError is a non-2xx response.
type APIError struct {
	Action  string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return "cloudinary: " + e.Action + " failed (" + strconv.Itoa(e.Status) + "): " + e.Message
}

// Upload sends image bytes. A non-empty publicID overwrites any previous image with that id.
func (c *Client) Upload(ctx context.Context, data []byte, filename, publicID string) (*UploadResult, error) {
	params := map[string]string{"folder": c.Folder}
	if publicID != "" {
		params["public_id"] = publicID
		params["overwrite"] = "true"
	}
	var result UploadResult
	err := c.call(ctx, "image/upload", params, func(w *multipart.Writer) error {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			return err
		}
		_, err = part.Write(data)
		return err
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Destroy deletes an image by public id. A missing image is not an error.
func (c *Client) Destroy(ctx context.Context, publicID string) error {
	var out struct {
		Result string `json:"result"`
	}
	if err := c.call(ctx, "image/destroy", map[string]string{"public_id": publicID}, nil, &out); err != nil {
		return err
	}
	switch out.Result {
	case "ok", "not found":
		return nil
	}
	return errors.Errorf("cloudinary: destroy returned %q", out.Result)
}

// call signs params, posts them as multipart form data and decodes the JSON reply into out.
func (c *Client) call(ctx context.Context, action string, params map[string]string, attach func(*multipart.Writer) error, out any) error {
	params["timestamp"] = strconv.FormatInt(c.now().Unix(), 10)
	params["api_key"] = c.APIKey
	params["signature"] = c.sign(params)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range params {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return errors.Wrapf(err, "cloudinary: write %s", k)
		}
	}
	if attach != nil {
		if err := attach(w); err != nil {
			return errors.Wrap(err, "cloudinary: attach file")
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "cloudinary: close form")
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/" + c.CloudName + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return errors.Wrap(err, "cloudinary: build request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "cloudinary: %s", action)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "cloudinary: read response")
	}
	if resp.StatusCode/100 != 2 {
		return &APIError{Action: action, Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	return errors.Wrap(json.Unmarshal(raw, out), "cloudinary: decode response")
}

func errorMessage(raw []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// sign hashes the sorted non-empty k=v pairs, joined by &, followed by the secret.
func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if !unsigned[k] && v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k + "=" + params[k])
	}
	b.WriteString(c.APISecret)
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
