package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"assetsense/internal/model"
)

// SummaryContext is the structured input handed to the narrative
// collaborator. Which provider sits behind the URL is out of scope here.
type SummaryContext struct {
	AssetID              int64     `json:"asset_id"`
	AssetName            string    `json:"asset_name,omitempty"`
	FailureProbability   float64   `json:"failure_probability"`
	RiskLevel            string    `json:"risk_level"`
	PredictedFailureDate time.Time `json:"predicted_failure_date"`
	ContributingFactors  []string  `json:"contributing_factors"`
}

type Summarizer interface {
	Summarize(ctx context.Context, sc SummaryContext) (string, error)
}

// HTTPSummarizer posts the context to an external text-generation
// endpoint. Calls are bounded by the client timeout; callers fall back to
// TemplateSummary on any failure.
type HTTPSummarizer struct {
	url    string
	client *http.Client
}

func NewHTTPSummarizer(url string, timeout time.Duration) *HTTPSummarizer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSummarizer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSummarizer) Summarize(ctx context.Context, sc SummaryContext) (string, error) {
	body, err := json.Marshal(sc)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summarizer returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Summary) == "" {
		return "", errors.New("summarizer returned empty summary")
	}
	return strings.TrimSpace(out.Summary), nil
}

// TemplateSummary is the deterministic fallback sentence used when the
// external collaborator is disabled, slow or failing.
func TemplateSummary(res model.PredictionResult) string {
	name := res.AssetName
	if name == "" {
		name = fmt.Sprintf("asset %d", res.AssetID)
	}
	if res.RiskLevel == model.RiskLow {
		return fmt.Sprintf("%s is operating at low risk (failure probability %.0f%%); routine monitoring is sufficient.",
			name, res.FailureProbability*100)
	}
	return fmt.Sprintf("%s shows %s failure risk (probability %.0f%%); projected failure around %s. Key signals: %s.",
		name,
		strings.ToLower(string(res.RiskLevel)),
		res.FailureProbability*100,
		res.PredictedFailureDate.Format("2006-01-02"),
		strings.Join(res.ContributingFactors, "; "))
}
