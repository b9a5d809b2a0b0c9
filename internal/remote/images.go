package remote

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// UpscaleRequest is the NovelAI upscale payload. Image is base64 without a
// data URL prefix.
type UpscaleRequest struct {
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Scale  int    `json:"scale"`
}

var errEmptyArchive = errors.New("archive is empty")

// Upscale sends the image to NovelAI. The response is a zip archive whose
// first entry is the upscaled image; it is returned base64 encoded.
func (c *Client) Upscale(ctx context.Context, token string, r UpscaleRequest) ImageResult {
	start := time.Now()
	body, err := json.Marshal(r)
	if err != nil {
		c.observe("upscale", "error", start)
		return ImageResult{Error: fmt.Sprintf("encode request: %v", err)}
	}
	resp, err := c.post(ctx, c.novelai+"/ai/upscale", "application/json", body, token)
	if err != nil {
		c.observe("upscale", "error", start)
		return ImageResult{Error: fmt.Sprintf("network error: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()
	if !isSuccess(resp.StatusCode) {
		c.observe("upscale", "error", start)
		return ImageResult{Error: apiError(resp)}
	}
	raw, err := readCapped(resp.Body, c.maxBytes)
	if err != nil {
		c.observe("upscale", "error", start)
		return ImageResult{Error: fmt.Sprintf("read response: %v", err)}
	}
	img, err := firstZipEntry(raw, c.maxBytes)
	if err != nil {
		c.observe("upscale", "error", start)
		return ImageResult{Error: fmt.Sprintf("zip error: %v", err)}
	}
	c.observe("upscale", "ok", start)
	return ImageResult{Success: true, ImageData: base64.StdEncoding.EncodeToString(img)}
}

// FirstZipEntry returns the contents of the first file in a zip archive.
// Entries that inflate past MaxImageBytes are rejected.
func FirstZipEntry(archive []byte) ([]byte, error) { return firstZipEntry(archive, MaxImageBytes) }

func firstZipEntry(archive []byte, limit int64) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, err
	}
	if len(zr.File) == 0 {
		return nil, errEmptyArchive
	}
	entry := zr.File[0]
	// the header size is only a claim; readCapped enforces the limit on the data
	if entry.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%w: entry over %d bytes", errTooLarge, limit)
	}
	f, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return readCapped(f, limit)
}

// RemoveBackground posts the decoded image to the background removal model
// and returns the result as a PNG data URL.
func (c *Client) RemoveBackground(ctx context.Context, imageBase64 string) ImageResult {
	start := time.Now()
	img, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		c.observe("remove_background", "error", start)
		return ImageResult{Error: fmt.Sprintf("base64 decode error: %v", err)}
	}
	resp, err := c.post(ctx, c.background, "application/octet-stream", img, "")
	if err != nil {
		c.observe("remove_background", "error", start)
		return ImageResult{Error: fmt.Sprintf("network error: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()
	if !isSuccess(resp.StatusCode) {
		c.observe("remove_background", "error", start)
		return ImageResult{Error: apiError(resp)}
	}
	out, err := readCapped(resp.Body, c.maxBytes)
	if err != nil {
		c.observe("remove_background", "error", start)
		return ImageResult{Error: fmt.Sprintf("read response: %v", err)}
	}
	c.observe("remove_background", "ok", start)
	return ImageResult{Success: true, ImageData: "data:image/png;base64," + base64.StdEncoding.EncodeToString(out)}
}
