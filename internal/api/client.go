// Package api is the REST client for the processing backend: job
// submission with upload progress, status polling with a terminal
// state lock, and plugin manifest retrieval with logical tool
// resolution.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/pitchsight/console/pkg/types"
)

// DefaultTimeout bounds each individual HTTP request.
const DefaultTimeout = 30 * time.Second

// ErrNoSuchCapability is returned when logical tool resolution finds
// no tool advertising the requested capability.
var ErrNoSuchCapability = errors.New("api: no tool advertises capability")

// Client talks to one backend instance.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a Client for the given base URL. A nil httpc uses
// a default client with DefaultTimeout.
func NewClient(baseURL string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
	}
}

// SubmitRequest describes one job submission.
type SubmitRequest struct {
	// Media is the file content; Filename is sent as the part name.
	Media    io.Reader
	Filename string

	PluginID string
	ToolIDs  []string

	// OnProgress, when set, receives upload progress as an integer
	// percentage from 0 to 100. The final call is always 100.
	OnProgress func(percent int)
}

// SubmitJob uploads media plus plugin/tool selection as a multipart
// form and returns the backend's job id.
func (c *Client) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Media == nil {
		return "", errors.New("api: submit without media")
	}
	if req.PluginID == "" || len(req.ToolIDs) == 0 {
		return "", errors.New("api: submit requires a plugin id and at least one tool id")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", req.Filename)
	if err != nil {
		return "", fmt.Errorf("api: build form: %w", err)
	}
	if _, err := io.Copy(part, req.Media); err != nil {
		return "", fmt.Errorf("api: read media: %w", err)
	}
	if err := form.WriteField("plugin_id", req.PluginID); err != nil {
		return "", fmt.Errorf("api: build form: %w", err)
	}
	for _, toolID := range req.ToolIDs {
		if err := form.WriteField("tool_ids", toolID); err != nil {
			return "", fmt.Errorf("api: build form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("api: build form: %w", err)
	}

	var upload io.Reader = &body
	if req.OnProgress != nil {
		upload = &progressReader{
			r:     upload,
			total: int64(body.Len()),
			emit:  req.OnProgress,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", upload)
	if err != nil {
		return "", fmt.Errorf("api: submit: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(httpReq, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", errors.New("api: submit response without job id")
	}
	return resp.JobID, nil
}

// GetJob fetches one job status snapshot. On completion the snapshot
// carries either the per-frame video payload or the flat image
// detections, whichever the backend produced.
func (c *Client) GetJob(ctx context.Context, jobID string) (*types.JobState, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("api: get job: %w", err)
	}

	var raw struct {
		JobID   string              `json:"job_id"`
		Status  string              `json:"status"`
		Message string              `json:"message"`
		Video   *types.VideoResults `json:"video"`
		Image   []types.Detection   `json:"detections"`
	}
	if err := c.do(httpReq, &raw); err != nil {
		return nil, err
	}

	return &types.JobState{
		JobID:   raw.JobID,
		Status:  types.NormalizeJobStatus(raw.Status),
		Message: raw.Message,
		Video:   raw.Video,
		Image:   raw.Image,
	}, nil
}

// FetchManifest retrieves a plugin's manifest.
func (c *Client) FetchManifest(ctx context.Context, pluginID string) (*types.Manifest, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/plugins/"+pluginID+"/manifest", nil)
	if err != nil {
		return nil, fmt.Errorf("api: fetch manifest: %w", err)
	}

	var manifest types.Manifest
	if err := c.do(httpReq, &manifest); err != nil {
		return nil, err
	}
	if manifest.PluginID == "" {
		manifest.PluginID = pluginID
	}
	return &manifest, nil
}

// ResolveLogicalTool maps a capability name to the concrete tool ids
// advertising it, in manifest order.
func ResolveLogicalTool(manifest *types.Manifest, capability string) ([]string, error) {
	matched := lo.Filter(manifest.Tools, func(tool types.Tool, _ int) bool {
		return lo.Contains(tool.Capabilities, capability)
	})
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchCapability, capability)
	}
	return lo.Map(matched, func(tool types.Tool, _ int) string { return tool.ID }), nil
}

// ToolsForInput filters a manifest to the tools accepting a given
// input type (e.g. "video", "image").
func ToolsForInput(manifest *types.Manifest, inputType string) []types.Tool {
	return lo.Filter(manifest.Tools, func(tool types.Tool, _ int) bool {
		return lo.Contains(tool.InputTypes, inputType)
	})
}

// do executes the request and decodes a JSON body into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("api: %s %s: status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: %s %s: decode response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// progressReader reports cumulative read progress as a percentage.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	last  int
	emit  func(percent int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)

	percent := 100
	if p.total > 0 && p.read < p.total {
		percent = int(p.read * 100 / p.total)
	}
	if err == io.EOF {
		percent = 100
	}
	if percent != p.last {
		p.last = percent
		p.emit(percent)
	}
	return n, err
}
