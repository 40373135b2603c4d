package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Cirno10124/stream-recognizer-go/internal/pipeline"
)

const preciseRequestTimeout = 30 * time.Second
const preciseHealthTimeout = 5 * time.Second

// PreciseParams are recognition parameters forwarded as the multipart
// "params" JSON part.
type PreciseParams struct {
	Language    string  `json:"language,omitempty"`
	UseGPU      bool    `json:"use_gpu"`
	BeamSize    int     `json:"beam_size,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// PreciseHTTP recognizes segments via a local precise-recognition HTTP
// service: a multipart upload per segment with a JSON params part and a
// per-request timeout.
type PreciseHTTP struct {
	baseURL    string
	params     PreciseParams
	httpClient *http.Client
	nextReqID  atomic.Int64 // worker goroutines recognize concurrently
}

// NewPreciseHTTP builds a client against baseURL (no trailing slash
// assumed; both are handled).
func NewPreciseHTTP(baseURL string, params PreciseParams) *PreciseHTTP {
	return &PreciseHTTP{
		baseURL:    strings.TrimRight(baseURL, "/"),
		params:     params,
		httpClient: &http.Client{Timeout: preciseRequestTimeout},
	}
}

// Name identifies this backend in logs and events.
func (c *PreciseHTTP) Name() string { return "precisehttp" }

// TestConnection reports whether the service is reachable and healthy.
func (c *PreciseHTTP) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, preciseHealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type preciseResponse struct {
	Success    bool    `json:"success"`
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// Recognize uploads the segment's WAV file and returns its recognized text.
func (c *PreciseHTTP) Recognize(ctx context.Context, seg pipeline.AudioSegment) (pipeline.RecognitionResult, error) {
	body, contentType, err := c.buildMultipart(seg.FilePath)
	if err != nil {
		return pipeline.RecognitionResult{}, fmt.Errorf("%w: %v", pipeline.ErrMalformedRequest, err)
	}

	reqID := c.nextReqID.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/recognize", body)
	if err != nil {
		return pipeline.RecognitionResult{}, fmt.Errorf("%w: %v", pipeline.ErrMalformedRequest, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", strconv.FormatInt(reqID, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.RecognitionResult{}, fmt.Errorf("recognizer: precise request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return pipeline.RecognitionResult{}, fmt.Errorf("%w: HTTP %d: %s", pipeline.ErrMalformedRequest, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= 500 {
		return pipeline.RecognitionResult{}, fmt.Errorf("recognizer: precise server error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed preciseResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return pipeline.RecognitionResult{}, fmt.Errorf("recognizer: decode precise response: %w", err)
	}
	if !parsed.Success {
		return pipeline.RecognitionResult{}, errors.New("recognizer: precise server reported failure: " + parsed.Message)
	}

	return pipeline.RecognitionResult{
		Text:           strings.TrimSpace(parsed.Text),
		SequenceNumber: int64(seg.SequenceNumber),
		Timestamp:      seg.Timestamp,
		DurationMs:     int64(seg.DurationMs),
		IsLast:         seg.IsLast,
		HasOverlap:     seg.HasOverlap,
		OverlapMs:      seg.OverlapMs,
	}, nil
}

func (c *PreciseHTTP) buildMultipart(filePath string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fileData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", err
	}

	fw, err := w.CreatePart(contentDisposition("file", filepath.Base(filePath), contentTypeForExt(filePath)))
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(fileData); err != nil {
		return nil, "", err
	}

	paramsJSON, err := json.Marshal(c.params)
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("params", string(paramsJSON)); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func contentDisposition(field, filename, contentType string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	return h
}

func contentTypeForExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
