// internal/api/photo.go
//
// Binary photo download for the Resource Client.
// Responsibilities:
//   - Fetch round photo bytes; the credential goes only to the authority host.
//   - Bound the download size and report its content type.

package api

import (
	"context"
	"io"
	"net/http"
)

// maxPhotoBytes bounds a single photo download.
const maxPhotoBytes = 32 << 20

// FetchPhoto downloads the bytes behind an authority-relative photo URL with
// the current credentials. Any failure other than 401 or a DomainError is a
// *TransportError so callers can show a "photo unavailable" indicator.
func (c *Client) FetchPhoto(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := c.send(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, "", &TransportError{Op: "read photo", Err: err}
	}
	if len(data) == 0 {
		return nil, "", &TransportError{Op: "read photo", Err: errEmpty}
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}
