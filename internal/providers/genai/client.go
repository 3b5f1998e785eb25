package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// Options controls how the generative API client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	ImageModel string
	VideoModel string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a lightweight facade over a Gemini-style generateContent API.
// Providers translate domain requests into prompts; the client owns transport
// and error classification. Content-policy rejections are fatal, everything
// else is transient.
type Client struct {
	apiKey     string
	baseURL    string
	imageModel string
	videoModel string
	httpClient *http.Client
	logger     *infra.Logger
}

// policyPhrases are upstream message fragments that identify a safety-filter
// rejection. Matching is by substring since the API reports these as plain
// text rather than a dedicated code.
var policyPhrases = []string{
	"content policy",
	"safety system",
	"safety filters",
	"prohibited content",
	"blocked by safety",
}

// NewClient validates options and builds a client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("genai: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = "gemini-2.5-flash-image"
	}
	videoModel := opts.VideoModel
	if videoModel == "" {
		videoModel = "veo-3"
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		imageModel: imageModel,
		videoModel: videoModel,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	FileData   *fileData   `json:"fileData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateImage asks the image model for a single rendered frame.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	return c.generate(ctx, c.imageModel, []part{{Text: prompt}})
}

// GenerateVideo asks the video model to animate a source image.
func (c *Client) GenerateVideo(ctx context.Context, imageURL, prompt string) ([]byte, error) {
	parts := []part{{Text: prompt}}
	if imageURL != "" {
		parts = append(parts, part{FileData: &fileData{MIMEType: "image/png", FileURI: imageURL}})
	}
	return c.generate(ctx, c.videoModel, parts)
}

func (c *Client) generate(ctx context.Context, model string, parts []part) ([]byte, error) {
	payload, err := json.Marshal(generateRequest{Contents: []content{{Parts: parts}}})
	if err != nil {
		return nil, domain.TransientGeneration(err, "encode generation request")
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.TransientGeneration(err, "build generation request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.TransientGeneration(err, "generation request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, domain.TransientGeneration(err, "read generation response")
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, domain.TransientGeneration(err, "decode generation response (status %d)", resp.StatusCode)
	}

	if decoded.Error != nil {
		return nil, ClassifyMessage(decoded.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.TransientGeneration(nil, "generation api status %d", resp.StatusCode)
	}

	for _, candidate := range decoded.Candidates {
		if reason := strings.ToUpper(candidate.FinishReason); reason == "SAFETY" || reason == "PROHIBITED_CONTENT" {
			return nil, domain.FatalGeneration("generation blocked by safety filters")
		}
		for _, p := range candidate.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, domain.TransientGeneration(err, "decode generated media")
			}
			return data, nil
		}
	}
	return nil, domain.TransientGeneration(nil, "generation response contained no media")
}

// ClassifyMessage maps an upstream error message onto the fatal/transient
// taxonomy by substring match on known policy-violation phrasing.
func ClassifyMessage(message string) error {
	lowered := strings.ToLower(message)
	for _, phrase := range policyPhrases {
		if strings.Contains(lowered, phrase) {
			return domain.FatalGeneration("generation rejected: %s", message)
		}
	}
	return domain.TransientGeneration(nil, "generation api error: %s", message)
}
