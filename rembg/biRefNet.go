package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/rembg/config"
	"github.com/chaos-io/rembg/util"
	nhttp "github.com/chaos-io/rembg/util/http"
)

const (
	BiRefNetModel = "birefnet"

	statsPath   = "system_stats"
	uploadPath  = "api/upload/image"
	promptPath  = "api/prompt"
	historyPath = "history/"
	viewPath    = "view"

	loadImageNode = "LoadImage"
)

//go:embed workflow.json
var workflowData []byte

// BiRefNetRemBG runs the BiRefNet matting workflow on a ComfyUI server.
type BiRefNetRemBG struct {
	baseURL      string
	cli          nhttp.IClient
	timeout      time.Duration
	probeTimeout time.Duration
	pollInterval time.Duration
	maxSize      int
}

func NewBiRefNetRemBG(cfg config.ModelConfig, cli nhttp.IClient) *BiRefNetRemBG {
	b := &BiRefNetRemBG{
		cli:          cli,
		timeout:      cfg.Timeout,
		probeTimeout: cfg.ProbeTimeout,
		pollInterval: cfg.PollInterval,
		maxSize:      cfg.MaxSize,
	}
	if cfg.Endpoint != "" {
		b.baseURL = strings.TrimRight(cfg.Endpoint, "/") + "/"
	}
	if b.pollInterval <= 0 {
		b.pollInterval = 500 * time.Millisecond
	}
	return b
}

func (b *BiRefNetRemBG) Name() string {
	return BiRefNetModel
}

// Available checks that the server answers at all.
func (b *BiRefNetRemBG) Available(ctx context.Context) error {
	if b.baseURL == "" {
		return fmt.Errorf("%w: no model endpoint configured", ErrUnavailable)
	}
	err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.baseURL + statsPath,
		Method:     http.MethodGet,
		Timeout:    b.probeTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (b *BiRefNetRemBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	src := util.ToNRGBA(img)
	size := src.Bounds().Size()

	var buf bytes.Buffer
	if err := util.EncodePNG(&buf, resizeWithinMax(src, b.maxSize)); err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}

	uploaded, err := b.uploadImage(ctx, ksuid.New().String()+".png", &buf)
	if err != nil {
		return nil, err
	}

	promptID, err := b.prompt(ctx, uploaded.path())
	if err != nil {
		return nil, err
	}

	ref, err := b.waitOutput(ctx, promptID)
	if err != nil {
		return nil, err
	}

	matte, err := b.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	out := util.ToNRGBA(matte)
	if out.Bounds().Size() != size {
		// the model saw a downscaled copy; keep the full-resolution pixels
		// and take only the upscaled matte
		out = withAlpha(src, resizeTo(out, size.X, size.Y))
	}
	if !hasUsefulAlpha(out) {
		slog.Warn("model output carries no transparency", "prompt_id", promptID, "file", ref.Filename)
	}
	return out, nil
}

type uploadImageResp struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// path is the value LoadImage expects.
func (u *uploadImageResp) path() string {
	if u.Subfolder == "" {
		return u.Name
	}
	return u.Subfolder + "/" + u.Name
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}
*/
func (b *BiRefNetRemBG) uploadImage(ctx context.Context, name string, data io.Reader) (*uploadImageResp, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, fmt.Errorf("copy form file: %w", err)
	}
	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	resp := &uploadImageResp{}
	err = b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.baseURL + uploadPath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
	})
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		return nil, errors.New("upload image: server returned no name")
	}

	slog.Debug("uploaded image", "name", resp.Name, "subfolder", resp.Subfolder)
	return resp, nil
}

type promptResp struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"'}'
*/
func (b *BiRefNetRemBG) prompt(ctx context.Context, imageName string) (string, error) {
	wk, err := buildWorkflow(imageName)
	if err != nil {
		return "", err
	}

	resp := &promptResp{}
	err = b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.baseURL + promptPath,
		Method:     http.MethodPost,
		Body:       map[string]any{"prompt": wk, "client_id": ksuid.New().String()},
		Response:   resp,
	})
	if err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if len(resp.NodeErrors) > 0 {
		return "", fmt.Errorf("queue prompt: node errors: %v", resp.NodeErrors)
	}
	if resp.PromptID == "" {
		return "", errors.New("queue prompt: server returned no prompt id")
	}

	slog.Debug("queued prompt", "prompt_id", resp.PromptID, "number", resp.Number)
	return resp.PromptID, nil
}

// buildWorkflow points every LoadImage node of the embedded workflow at
// imageName.
func buildWorkflow(imageName string) (map[string]any, error) {
	wk := map[string]any{}
	if err := json.Unmarshal(workflowData, &wk); err != nil {
		return nil, fmt.Errorf("unmarshal workflow data: %w", err)
	}

	found := false
	for _, n := range wk {
		node, ok := n.(map[string]any)
		if !ok || node["class_type"] != loadImageNode {
			continue
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			continue
		}
		inputs["image"] = imageName
		found = true
	}
	if !found {
		return nil, errors.New("workflow has no LoadImage node")
	}
	return wk, nil
}

type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
}

// firstImage returns the first output image in node id order.
func (h *historyEntry) firstImage() (imageRef, bool) {
	ids := make([]string, 0, len(h.Outputs))
	for id := range h.Outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if images := h.Outputs[id].Images; len(images) > 0 {
			return images[0], true
		}
	}
	return imageRef{}, false
}

func (b *BiRefNetRemBG) waitOutput(ctx context.Context, promptID string) (imageRef, error) {
	for {
		history := map[string]historyEntry{}
		err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
			RequestURI: b.baseURL + historyPath + promptID,
			Method:     http.MethodGet,
			Response:   &history,
		})
		if err != nil {
			return imageRef{}, fmt.Errorf("poll history: %w", err)
		}

		if entry, ok := history[promptID]; ok {
			if entry.Status.StatusStr == "error" {
				return imageRef{}, fmt.Errorf("workflow %s failed", promptID)
			}
			if ref, ok := entry.firstImage(); ok {
				return ref, nil
			}
			if entry.Status.Completed {
				return imageRef{}, fmt.Errorf("workflow %s produced no image", promptID)
			}
		}

		select {
		case <-ctx.Done():
			return imageRef{}, fmt.Errorf("wait for workflow %s: %w", promptID, ctx.Err())
		case <-time.After(b.pollInterval):
		}
	}
}

func (b *BiRefNetRemBG) fetch(ctx context.Context, ref imageRef) (image.Image, error) {
	var data []byte
	err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.baseURL + viewPath,
		Method:     http.MethodGet,
		Query: map[string]string{
			"filename":  ref.Filename,
			"subfolder": ref.Subfolder,
			"type":      ref.Type,
		},
		Response: &data,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch output: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode output %s: %w", ref.Filename, err)
	}
	return img, nil
}

// withAlpha returns a copy of src carrying the alpha channel of matte.
// Both images must have the same size.
func withAlpha(src, matte *image.NRGBA) *image.NRGBA {
	dst := util.CloneNRGBA(src)
	b := dst.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Pix[y*dst.Stride+x*4+3] = matte.Pix[y*matte.Stride+x*4+3]
		}
	}
	return dst
}
