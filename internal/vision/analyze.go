package vision

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"go.uber.org/zap"
)

const (
	analyzePath   = "/vision/v3.2/analyze"
	moduleName    = "faceblur/vision"
	moduleVersion = "v1.0.0"
)

// AnalyzeClient calls the Computer Vision analyze endpoint with the Faces
// visual feature.
type AnalyzeClient struct {
	endpoint string
	pipeline runtime.Pipeline
	logger   *zap.Logger
}

// NewAnalyzeClient builds a client for endpoint. options may be nil.
func NewAnalyzeClient(endpoint string, creds CredentialProvider, options *policy.ClientOptions, logger *zap.Logger) (*AnalyzeClient, error) {
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" {
		return nil, errors.New("vision: endpoint is required")
	}
	if creds == nil {
		return nil, errors.New("vision: credential provider is required")
	}
	pl := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerRetry: []policy.Policy{authPolicy{creds: creds}},
	}, options)
	return &AnalyzeClient{
		endpoint: endpoint,
		pipeline: pl,
		logger:   logger.Named("vision_analyze"),
	}, nil
}

// Detect implements Detector.
func (c *AnalyzeClient) Detect(ctx context.Context, src Source) (*Analysis, error) {
	req, err := runtime.NewRequest(ctx, http.MethodPost, c.endpoint+analyzePath)
	if err != nil {
		return nil, err
	}
	q := req.Raw().URL.Query()
	q.Set("visualFeatures", "Faces")
	req.Raw().URL.RawQuery = q.Encode()
	req.Raw().Header.Set("Accept", "application/json")

	switch {
	case src.URL != "":
		if err := runtime.MarshalAsJSON(req, map[string]string{"url": src.URL}); err != nil {
			return nil, err
		}
	case len(src.Data) > 0:
		if err := req.SetBody(streaming.NopCloser(bytes.NewReader(src.Data)), "application/octet-stream"); err != nil {
			return nil, err
		}
	default:
		return nil, ErrEmptySource
	}

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, err
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, runtime.NewResponseError(resp)
	}

	var body analyzeResponse
	if err := runtime.UnmarshalAsJSON(resp, &body); err != nil {
		return nil, err
	}
	analysis, err := body.analysis()
	if err != nil {
		return nil, err
	}
	c.logger.Debug("analyze call completed",
		zap.Int("faces", len(analysis.Faces)),
		zap.Int("width", analysis.Width),
		zap.Int("height", analysis.Height),
	)
	return analysis, nil
}
