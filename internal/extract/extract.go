// Package extract turns a photographed receipt into a best-effort set of
// entry fields using an external image-understanding model.
//
// The external call is treated as opaque: image bytes in, a weakly-typed
// record out. Every field may be missing or malformed; Normalize
// substitutes safe defaults so a failed extraction never blocks entry.
package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"kakeibo/internal/core"
)

// Fields is the weakly-typed record the model returns. All fields are
// optional guesses.
type Fields struct {
	Date   string `json:"date"`   // expected YYYY-MM-DD, not trusted
	Store  string `json:"store"`  // shop name, used as the memo fallback
	Amount int64  `json:"amount"` // whole yen
	Memo   string `json:"memo"`
}

// Prefill is the normalized form pre-fill derived from Fields.
type Prefill struct {
	Date   core.Date
	Memo   string
	Amount core.Money
}

// Normalize substitutes defaults for missing or malformed fields: the
// given current date, an empty memo, and a zero amount.
func (f Fields) Normalize(today core.Date) Prefill {
	p := Prefill{Date: today}

	if d, err := core.ParseDate(f.Date); err == nil {
		p.Date = d
	}

	memo := strings.TrimSpace(f.Memo)
	if memo == "" {
		memo = strings.TrimSpace(f.Store)
	}
	p.Memo = memo

	if f.Amount > 0 {
		p.Amount = core.Money{Yen: f.Amount}
	}
	return p
}

const extractPrompt = `Read this receipt photo and answer with a single JSON object: ` +
	`{"date":"YYYY-MM-DD","store":"shop name","amount":1234,"memo":"short note"}. ` +
	`Amount is the total in whole yen. Omit values you cannot read.`

var ErrExtractionFailed = errors.New("receipt extraction failed")

// Client calls the Gemini generateContent REST endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	model      string
	apiKey     string
}

func NewClient(endpoint, model, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		apiKey:     apiKey,
	}
}

type (
	generatePart struct {
		Text       string      `json:"text,omitempty"`
		InlineData *inlineData `json:"inline_data,omitempty"`
	}
	inlineData struct {
		MimeType string `json:"mime_type"`
		Data     string `json:"data"`
	}
	generateRequest struct {
		Contents []struct {
			Parts []generatePart `json:"parts"`
		} `json:"contents"`
		GenerationConfig struct {
			ResponseMimeType string `json:"response_mime_type"`
		} `json:"generationConfig"`
	}
	generateResponse struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
)

// Extract sends the image and parses the model's JSON guess. Callers must
// treat any error as non-fatal and fall back to Fields{}.Normalize.
func (c *Client) Extract(ctx context.Context, image []byte, mimeType string) (Fields, error) {
	if len(image) == 0 {
		return Fields{}, fmt.Errorf("%w: empty image", ErrExtractionFailed)
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	var req generateRequest
	req.Contents = append(req.Contents, struct {
		Parts []generatePart `json:"parts"`
	}{Parts: []generatePart{
		{Text: extractPrompt},
		{InlineData: &inlineData{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(image),
		}},
	}})
	req.GenerationConfig.ResponseMimeType = "application/json"

	body, err := json.Marshal(req)
	if err != nil {
		return Fields{}, fmt.Errorf("%w: marshal request: %v", ErrExtractionFailed, err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.endpoint, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Fields{}, fmt.Errorf("%w: build request: %v", ErrExtractionFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Fields{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.ErrorContext(ctx, "Extraction API returned non-OK status",
			"status", resp.StatusCode,
			"body", string(payload))
		return Fields{}, fmt.Errorf("%w: status %d", ErrExtractionFailed, resp.StatusCode)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return Fields{}, fmt.Errorf("%w: decode response: %v", ErrExtractionFailed, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return Fields{}, fmt.Errorf("%w: empty response", ErrExtractionFailed)
	}

	text := gr.Candidates[0].Content.Parts[0].Text
	var fields Fields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		slog.WarnContext(ctx, "Extraction returned unparseable JSON", "text", text, "error", err)
		return Fields{}, fmt.Errorf("%w: unparseable fields", ErrExtractionFailed)
	}

	slog.InfoContext(ctx, "Receipt extracted",
		"date", fields.Date,
		"store", fields.Store,
		"amount_yen", fields.Amount)
	return fields, nil
}
