package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/latentwalk/api-go/internal/latent"
	"github.com/example/latentwalk/api-go/internal/model"
)

// Remote calls an external inference endpoint over HTTP.
//
// Request:  POST <url> {"latent": [...]}
// Response: {"channels": 3, "height": H, "width": W, "data": [...]}
type Remote struct {
	URL    string
	APIKey string
	dim    int
	client *http.Client
}

// NewRemote returns a generator for url. A zero timeout means 30s.
func NewRemote(url string, dim int, timeout time.Duration) (*Remote, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: remote generator url is required", model.ErrValidation)
	}
	if dim < 1 {
		return nil, fmt.Errorf("%w: latent dimension must be >= 1, got %d", model.ErrValidation, dim)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{URL: url, dim: dim, client: &http.Client{Timeout: timeout}}, nil
}

func (r *Remote) Dim() int { return r.dim }

func (r *Remote) Reentrant() bool { return true }

type remoteRequest struct {
	Latent []float64 `json:"latent"`
}

func (r *Remote) Generate(ctx context.Context, z latent.Vector) (Raw, error) {
	body, err := json.Marshal(remoteRequest{Latent: z})
	if err != nil {
		return Raw{}, fmt.Errorf("%w: encode request: %v", model.ErrSynthesis, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return Raw{}, fmt.Errorf("%w: build request: %v", model.ErrSynthesis, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.APIKey != "" {
		req.Header.Set("X-API-Key", r.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Raw{}, ctxErr
		}
		return Raw{}, fmt.Errorf("%w: remote request: %v", model.ErrSynthesis, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Raw{}, fmt.Errorf("%w: remote returned %s: %s", model.ErrSynthesis, resp.Status, strings.TrimSpace(string(snippet)))
	}
	var raw Raw
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Raw{}, fmt.Errorf("%w: decode response: %v", model.ErrSynthesis, err)
	}
	return raw, nil
}
