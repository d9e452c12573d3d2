package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitchsight/console/pkg/types"
)

func TestClient_SubmitJob(t *testing.T) {
	var gotPlugin string
	var gotTools []string
	var gotFile []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotPlugin = r.FormValue("plugin_id")
		gotTools = r.MultipartForm.Value["tool_ids"]

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(file)
		gotFile = buf.Bytes()

		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "job-42"})
	}))
	defer srv.Close()

	media := bytes.Repeat([]byte{0xAB}, 4096)
	var progress []int
	client := NewClient(srv.URL, nil)
	jobID, err := client.SubmitJob(context.Background(), SubmitRequest{
		Media:      bytes.NewReader(media),
		Filename:   "clip.mp4",
		PluginID:   "pitch-analyzer",
		ToolIDs:    []string{"detect-players", "track-ball"},
		OnProgress: func(p int) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if jobID != "job-42" {
		t.Fatalf("unexpected job id %q", jobID)
	}
	if gotPlugin != "pitch-analyzer" || len(gotTools) != 2 {
		t.Fatalf("form fields not forwarded: plugin=%q tools=%v", gotPlugin, gotTools)
	}
	if !bytes.Equal(gotFile, media) {
		t.Fatalf("media corrupted in transit: %d bytes", len(gotFile))
	}

	if len(progress) == 0 {
		t.Fatal("no progress reported")
	}
	last := 0
	for _, p := range progress {
		if p < 0 || p > 100 || p < last {
			t.Fatalf("progress not monotonic within [0,100]: %v", progress)
		}
		last = p
	}
	if last != 100 {
		t.Fatalf("final progress %d, want 100", last)
	}
}

func TestClient_SubmitJobValidation(t *testing.T) {
	client := NewClient("http://invalid.invalid", nil)

	if _, err := client.SubmitJob(context.Background(), SubmitRequest{
		PluginID: "p", ToolIDs: []string{"t"},
	}); err == nil {
		t.Fatal("expected error for missing media")
	}
	if _, err := client.SubmitJob(context.Background(), SubmitRequest{
		Media: bytes.NewReader([]byte{1}), PluginID: "p",
	}); err == nil {
		t.Fatal("expected error for missing tool ids")
	}
}

func TestClient_GetJobVideoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/job-7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"job_id": "job-7",
			"status": "done",
			"video": {
				"total_frames": 2,
				"frames": [
					{"frame_index": 0, "detections": []},
					{"frame_index": 1, "detections": [{"class_name": "ball", "confidence": 0.7,
						"bbox": {"x": 1, "y": 2, "w": 3, "h": 4}}]}
				]
			}
		}`))
	}))
	defer srv.Close()

	state, err := NewClient(srv.URL, nil).GetJob(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	// The backend's "done" folds into the canonical completed state.
	if state.Status != types.JobCompleted {
		t.Fatalf("status %q, want completed", state.Status)
	}
	if state.Video == nil || state.Video.TotalFrames != 2 {
		t.Fatalf("video payload missing: %+v", state.Video)
	}
	if state.Video.Frames[1].Detections[0].ClassName != "ball" {
		t.Fatalf("detections not decoded: %+v", state.Video.Frames[1])
	}
}

func TestClient_GetJobImageResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"job_id": "job-8",
			"status": "completed",
			"detections": [{"class_name": "player", "confidence": 0.95,
				"bbox": {"x": 10, "y": 20, "w": 30, "h": 40}}]
		}`))
	}))
	defer srv.Close()

	state, err := NewClient(srv.URL, nil).GetJob(context.Background(), "job-8")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if len(state.Image) != 1 || state.Image[0].ClassName != "player" {
		t.Fatalf("image detections not decoded: %+v", state.Image)
	}
}

func TestClient_ErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, nil).GetJob(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestFetchManifestAndResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/plugins/pitch-analyzer/manifest" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"plugin_id": "pitch-analyzer",
			"tools": [
				{"id": "detect-v2", "input_types": ["video", "image"],
					"output_types": ["detections"], "capabilities": ["player-detection"]},
				{"id": "detect-v1", "input_types": ["image"],
					"output_types": ["detections"], "capabilities": ["player-detection", "legacy"]},
				{"id": "lines", "input_types": ["video"],
					"output_types": ["segments"], "capabilities": ["pitch-lines"]}
			]
		}`))
	}))
	defer srv.Close()

	manifest, err := NewClient(srv.URL, nil).FetchManifest(context.Background(), "pitch-analyzer")
	if err != nil {
		t.Fatalf("fetch manifest: %v", err)
	}
	if len(manifest.Tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(manifest.Tools))
	}

	ids, err := ResolveLogicalTool(manifest, "player-detection")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(ids) != 2 || ids[0] != "detect-v2" || ids[1] != "detect-v1" {
		t.Fatalf("unexpected resolution %v", ids)
	}

	if _, err := ResolveLogicalTool(manifest, "radar"); err == nil {
		t.Fatal("expected no-such-capability error")
	}

	videoTools := ToolsForInput(manifest, "video")
	if len(videoTools) != 2 {
		t.Fatalf("expected 2 video tools, got %d", len(videoTools))
	}
}
