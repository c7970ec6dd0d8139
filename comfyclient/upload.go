package comfyclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
)

// Upload is the server's answer to an image upload.
type Upload struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// UploadImage uploads the file at path into the server's input folder,
// overwriting a file of the same name. name overrides the stored file name.
// It returns the name image loaders should reference.
func (c *Client) UploadImage(ctx context.Context, path, name string) (Upload, error) {
	f, err := os.Open(path) // #nosec G304 -- path from caller
	if err != nil {
		return Upload{}, fmt.Errorf("comfyclient: open image: %w", err)
	}
	defer f.Close()
	if name == "" {
		name = filepath.Base(path)
	}
	return c.upload(ctx, f, name)
}

func (c *Client) upload(ctx context.Context, r io.Reader, name string) (Upload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "image/png"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, name))
	h.Set("Content-Type", ctype)
	part, err := mw.CreatePart(h)
	if err != nil {
		return Upload{}, fmt.Errorf("comfyclient: build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return Upload{}, fmt.Errorf("comfyclient: read image: %w", err)
	}
	if err := mw.WriteField("overwrite", "true"); err != nil {
		return Upload{}, fmt.Errorf("comfyclient: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Upload{}, fmt.Errorf("comfyclient: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload/image", nil), &buf)
	if err != nil {
		return Upload{}, fmt.Errorf("comfyclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return Upload{}, fmt.Errorf("comfyclient: upload %s: %w", name, err)
	}
	var up Upload
	if err := sonic.Unmarshal(body, &up); err != nil {
		return Upload{}, fmt.Errorf("comfyclient: decode upload response: %w", err)
	}
	if up.Name == "" {
		up.Name = name
	}
	c.logger.Debug("image uploaded", "name", up.Name, "subfolder", up.Subfolder)
	return up, nil
}

// Reference returns the value an image loader input takes for u.
func (u Upload) Reference() string {
	if u.Subfolder == "" {
		return u.Name
	}
	return u.Subfolder + "/" + u.Name
}
