// Package render talks to the external flattening service that merges locked
// field values into a document's pages.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
)

var (
	ErrNotFound      = errors.New("renderer: source document not found")
	ErrRenderFailure = errors.New("renderer: flatten failed")
)

type Renderer interface {
	Flatten(ctx context.Context, doc domain.Document, fields []domain.Field) ([]byte, error)
}

// Func adapts a plain function to Renderer.
type Func func(ctx context.Context, doc domain.Document, fields []domain.Field) ([]byte, error)

func (f Func) Flatten(ctx context.Context, doc domain.Document, fields []domain.Field) ([]byte, error) {
	return f(ctx, doc, fields)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: timeout}}
}

type flattenField struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Value  string  `json:"value"`
}

type flattenRequest struct {
	DocumentID string         `json:"document_id"`
	FileKey    string         `json:"file_key"`
	Fields     []flattenField `json:"fields"`
}

// Flatten posts the locked fields of doc and returns the rendered PDF bytes.
// Unlocked fields are not sent.
func (c *Client) Flatten(ctx context.Context, doc domain.Document, fields []domain.Field) ([]byte, error) {
	req := flattenRequest{DocumentID: doc.ID, FileKey: doc.FileKey, Fields: []flattenField{}}
	for _, f := range fields {
		if !f.Locked || f.Value == nil {
			continue
		}
		req.Fields = append(req.Fields, flattenField{
			ID: f.ID, Type: string(f.Type), Page: f.Page,
			X: f.X, Y: f.Y, Width: f.Width, Height: f.Height, Value: *f.Value,
		})
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/flatten", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("accept", "application/pdf")
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailure, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: renderer returned %d", ErrRenderFailure, resp.StatusCode)
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailure, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrRenderFailure)
	}
	return out, nil
}
