package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/3B132016/tws/internal/analysis"
	"github.com/3B132016/tws/internal/metrics"
	"github.com/3B132016/tws/internal/model"
)

const (
	DefaultModelTimeout = 5 * time.Minute
	DefaultTrainPath    = "/train"
)

var ErrTrainerRejected = errors.New("trainer returned no score")

// trainRequest is the payload sent to the external trainer.
type trainRequest struct {
	SecurityID   string    `json:"security_id"`
	Window       int       `json:"window"`
	Multiplier   float64   `json:"multiplier"`
	Threshold    float64   `json:"threshold"`
	Closes       []float64 `json:"closes"`
	EventIndices []int     `json:"event_indices"`
}

type trainResponse struct {
	OK      bool    `json:"ok"`
	ValLoss float64 `json:"val_loss"`
	Error   string  `json:"error,omitempty"`
}

// ModelScorer asks an externally hosted trainer for the validation loss of a
// model trained under the given parameters. Lower is better.
type ModelScorer struct {
	baseURL  string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	detector *analysis.Detector
	metrics  *metrics.Recorder
	log      zerolog.Logger
}

// ModelOption configures the ModelScorer.
type ModelOption func(*ModelScorer)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ModelOption {
	return func(m *ModelScorer) {
		m.client = c
	}
}

// WithModelMetrics records trainer latency.
func WithModelMetrics(r *metrics.Recorder) ModelOption {
	return func(m *ModelScorer) {
		m.metrics = r
	}
}

// WithBreaker sets the number of consecutive failures that opens the breaker
// and how long it stays open.
func WithBreaker(failures uint32, openFor time.Duration) ModelOption {
	return func(m *ModelScorer) {
		m.breaker = newBreaker(failures, openFor)
	}
}

func newBreaker(failures uint32, openFor time.Duration) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{Name: "model-scorer"}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= failures }
	st.Timeout = openFor
	return gobreaker.NewCircuitBreaker(st)
}

// NewModelScorer creates a scorer backed by the trainer at baseURL.
func NewModelScorer(baseURL string, log zerolog.Logger, opts ...ModelOption) *ModelScorer {
	m := &ModelScorer{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: DefaultModelTimeout},
		breaker:  newBreaker(5, time.Minute),
		detector: analysis.NewDetector(log),
		log:      log.With().Str("component", "scorer.model").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *ModelScorer) Name() string        { return "model" }
func (m *ModelScorer) LowerIsBetter() bool { return true }

// Fingerprint names the trainer the scores come from.
func (m *ModelScorer) Fingerprint() string { return "model:" + m.baseURL }

func (m *ModelScorer) Score(ctx context.Context, series *model.Series, params model.DetectionParams) (float64, bool, error) {
	if series.Len() <= params.Window {
		return 0, false, nil
	}
	events, err := m.detector.Detect(series, params)
	if err != nil {
		return 0, false, err
	}
	idx := make([]int, len(events))
	for i, ev := range events {
		idx[i] = ev.Index
	}

	req := trainRequest{
		SecurityID:   series.SecurityID,
		Window:       params.Window,
		Multiplier:   params.Multiplier,
		Threshold:    params.AbsoluteThreshold,
		Closes:       series.Closes(),
		EventIndices: idx,
	}

	start := time.Now()
	out, err := m.breaker.Execute(func() (interface{}, error) {
		return m.post(ctx, req)
	})
	m.metrics.RecordExternal("model_trainer", time.Since(start).Seconds())
	if err != nil {
		return 0, false, fmt.Errorf("train %s (%s): %w", series.SecurityID, params, err)
	}

	resp := out.(*trainResponse)
	if !resp.OK {
		m.log.Debug().Str("security", series.SecurityID).Str("reason", resp.Error).Msg("trainer declined")
		return 0, false, nil
	}
	return resp.ValLoss, true, nil
}

func (m *ModelScorer) post(ctx context.Context, payload trainRequest) (*trainResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+DefaultTrainPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", DefaultTrainPath, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrTrainerRejected, resp.StatusCode, string(data))
	}

	var tr trainResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &tr, nil
}
