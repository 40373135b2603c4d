package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Cirno10124/stream-recognizer-go/internal/pipeline"
)

const cloudRequestTimeout = 60 * time.Second

// CloudHTTP recognizes segments against a cloud transcription service's
// POST /transcribe endpoint: multipart form data with parts file, model and
// sequence. The response is either a JSON object carrying at least a "text"
// field or bare plain text; both are normalized before a result is emitted.
type CloudHTTP struct {
	url        string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewCloudHTTP builds a client against serverURL. If serverURL does not
// already end in "/transcribe" it is appended, per the contract that the
// URL point at a POST …/transcribe endpoint. apiKey, if non-empty, is sent
// as a bearer token.
func NewCloudHTTP(apiKey, serverURL, model string) *CloudHTTP {
	return &CloudHTTP{
		url:        normalizeTranscribeURL(serverURL),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: cloudRequestTimeout},
	}
}

func normalizeTranscribeURL(url string) string {
	trimmed := strings.TrimRight(url, "/")
	if strings.HasSuffix(trimmed, "/transcribe") {
		return trimmed
	}
	return trimmed + "/transcribe"
}

// Name identifies this backend in logs and events.
func (c *CloudHTTP) Name() string { return "cloudhttp" }

// cloudResponse is the JSON shape of a /transcribe reply; servers that
// answer bare text instead are normalized into the same structure.
type cloudResponse struct {
	Text     string `json:"text"`
	Sequence int64  `json:"sequence"`
	Error    string `json:"error,omitempty"`
}

// Recognize uploads the segment's WAV file and returns the normalized
// result carrying the segment's original sequence number.
func (c *CloudHTTP) Recognize(ctx context.Context, seg pipeline.AudioSegment) (pipeline.RecognitionResult, error) {
	body, contentType, err := c.buildMultipart(seg)
	if err != nil {
		return pipeline.RecognitionResult{}, fmt.Errorf("%w: %v", pipeline.ErrMalformedRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return pipeline.RecognitionResult{}, fmt.Errorf("%w: %v", pipeline.ErrMalformedRequest, err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.RecognitionResult{}, fmt.Errorf("recognizer: cloud request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusBadRequest {
		return pipeline.RecognitionResult{}, fmt.Errorf("%w: malformed multipart upload: %s", pipeline.ErrMalformedRequest, string(respBody))
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return pipeline.RecognitionResult{}, fmt.Errorf("%w: HTTP %d: %s", pipeline.ErrMalformedRequest, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= 500 {
		return pipeline.RecognitionResult{}, fmt.Errorf("recognizer: cloud server error %d: %s", resp.StatusCode, string(respBody))
	}

	text, err := normalizeCloudResponse(respBody)
	if err != nil {
		return pipeline.RecognitionResult{}, err
	}

	logrus.WithFields(logrus.Fields{
		"backend":  c.Name(),
		"sequence": seg.SequenceNumber,
	}).Debug("cloud recognition complete")

	return pipeline.RecognitionResult{
		Text:           text,
		SequenceNumber: int64(seg.SequenceNumber),
		Timestamp:      seg.Timestamp,
		DurationMs:     int64(seg.DurationMs),
		IsLast:         seg.IsLast,
		HasOverlap:     seg.HasOverlap,
		OverlapMs:      seg.OverlapMs,
	}, nil
}

// normalizeCloudResponse accepts either a JSON object with a text field or
// a bare plain-text body and returns the transcription text.
func normalizeCloudResponse(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var parsed cloudResponse
		if err := json.Unmarshal(trimmed, &parsed); err != nil {
			return "", fmt.Errorf("recognizer: decode cloud response: %w", err)
		}
		if parsed.Error != "" {
			return "", fmt.Errorf("recognizer: cloud server reported: %s", parsed.Error)
		}
		return strings.TrimSpace(parsed.Text), nil
	}
	return strings.TrimSpace(string(trimmed)), nil
}

func (c *CloudHTTP) buildMultipart(seg pipeline.AudioSegment) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fileData, err := os.ReadFile(seg.FilePath)
	if err != nil {
		return nil, "", err
	}

	fw, err := w.CreatePart(contentDisposition("file", filepath.Base(seg.FilePath), contentTypeForExt(seg.FilePath)))
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(fileData); err != nil {
		return nil, "", err
	}

	if err := w.WriteField("model", c.model); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("sequence", strconv.FormatUint(seg.SequenceNumber, 10)); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
