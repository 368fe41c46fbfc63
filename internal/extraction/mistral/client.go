package mistral

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/docpipe/internal/config"
	"github.com/smallbiznis/docpipe/internal/extraction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// extractionPrompt instructs the model to answer with the envelope shape the
// orchestrator normalizes. Multi-invoice documents are the norm, not the
// exception, for scanned batches.
const extractionPrompt = `Analyze this document and extract ALL financial data with maximum precision.

INSTRUCTIONS:
1. Look for MULTIPLE invoices if the document contains them
2. Extract every available field, not just the basics
3. Keep dates in DD/MM/YYYY format
4. Compute totals when they appear split
5. Identify suppliers and customers clearly

RESPONSE FORMAT (valid JSON):
{
  "detected_invoices": [
    {
      "invoice_number": "string",
      "issue_date": "DD/MM/YYYY",
      "supplier": {"name": "string", "nif": "string", "address": "string"},
      "customer": {"name": "string", "nif": "string", "address": "string"},
      "line_items": [
        {"description": "string", "quantity": 0, "unit_price": 0, "tax_rate": 0, "amount": 0}
      ],
      "base_amount": 0,
      "tax_amount": 0,
      "total_amount": 0
    }
  ],
  "document_type": "invoice|payroll|receipt|other",
  "confidence_score": 0.95
}`

type Params struct {
	fx.In

	Log    *zap.Logger
	Config config.Config
}

type Client struct {
	log     *zap.Logger
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
}

func New(p Params) domain.Client {
	return &Client{
		log:     p.Log.Named("extraction.mistral"),
		http:    &http.Client{Timeout: 60 * time.Second},
		baseURL: strings.TrimRight(p.Config.Mistral.BaseURL, "/"),
		apiKey:  p.Config.Mistral.APIKey,
		model:   p.Config.Mistral.Model,
	}
}

// ExtractRaw uploads the document to the Files API, then runs document
// understanding against the signed URL and returns the model's content bytes.
func (c *Client) ExtractRaw(ctx context.Context, raw []byte, fileName string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("mistral api key not configured")
	}

	start := time.Now()
	signedURL, err := c.uploadFile(ctx, raw, fileName)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": extractionPrompt},
					{"type": "document_url", "document_url": signedURL},
				},
			},
		},
		"max_tokens":  4000,
		"temperature": 0.1,
	}

	raw, err = c.postJSON(ctx, c.baseURL+"/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &completion); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response")
	}

	c.log.Info("document processed",
		zap.String("file", fileName),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return []byte(completion.Choices[0].Message.Content), nil
}

// uploadFile pushes the document to the Files API and exchanges the file id
// for a signed download URL the chat endpoint can consume.
func (c *Client) uploadFile(ctx context.Context, raw []byte, fileName string) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(raw); err != nil {
		return "", err
	}
	if err := form.WriteField("purpose", "ocr"); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("files upload: status %d: %s", resp.StatusCode, payload)
	}

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &uploaded); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+uploaded.ID+"/url", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err = c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, _ = io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("signed url: status %d: %s", resp.StatusCode, payload)
	}

	var signed struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(payload, &signed); err != nil {
		return "", fmt.Errorf("decode signed url response: %w", err)
	}
	return signed.URL, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body any) ([]byte, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("chat completion: status %d: %s", resp.StatusCode, raw)
	}
	return raw, nil
}
