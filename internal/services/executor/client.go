// Package executor submits backtest jobs to the remote quantitative
// execution service.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"QuantGate/internal/domain/errs"
	"QuantGate/internal/domain/models"
	xhttp "QuantGate/pkg/http"
	"QuantGate/pkg/logger"

	"github.com/google/uuid"
)

// Config holds executor endpoint and credentials.
type Config struct {
	BaseURL    string
	SubmitPath string
	Timeout    time.Duration
	Token      string
	UserID     string
}

// Client implements repository.JobSubmitter over HTTP.
type Client struct {
	submitURL string
	client    *xhttp.Client
	logger    *logger.Logger
}

// NewClient builds a submitter. Auth headers are attached to every request.
func NewClient(cfg Config, l *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("executor base url is required")
	}
	if l == nil {
		l = logger.Nop()
	}
	path := cfg.SubmitPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	opts := []xhttp.ClientOption{xhttp.WithTimeout(cfg.Timeout)}
	if cfg.Token != "" {
		opts = append(opts, xhttp.WithHeader("Authorization", "Bearer "+cfg.Token))
	}
	opts = append(opts, xhttp.WithHeader("X-User-Id", cfg.UserID))

	return &Client{
		submitURL: strings.TrimRight(cfg.BaseURL, "/") + path,
		client:    xhttp.NewClient(opts...),
		logger:    l.With(logger.String("component", "executor")),
	}, nil
}

type submitRequest struct {
	StrategyID   string               `json:"strategy_id,omitempty"`
	Code         *models.StrategyCode `json:"code,omitempty"`
	Symbol       string               `json:"symbol,omitempty"`
	Capital      float64              `json:"capital"`
	Order        float64              `json:"order"`
	StartDate    string               `json:"start_date,omitempty"`
	EndDate      string               `json:"end_date,omitempty"`
	Resolution   models.Resolution    `json:"resolution"`
	FQ           models.FQ            `json:"fq"`
	Commission   float64              `json:"commission"`
	Margin       float64              `json:"margin"`
	RiskFreeRate float64              `json:"riskfreerate"`
	Pyramiding   int                  `json:"pyramiding"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
	ID    string `json:"id"`
	Data  *struct {
		JobID string `json:"job_id"`
	} `json:"data"`
}

func (r submitResponse) jobID() string {
	switch {
	case r.JobID != "":
		return r.JobID
	case r.Data != nil && r.Data.JobID != "":
		return r.Data.JobID
	default:
		return r.ID
	}
}

// Submit posts the job once. Retries belong to the caller.
func (c *Client) Submit(ctx context.Context, job models.BacktestJob) (string, error) {
	if job.Strategy.StrategyID == "" && job.Strategy.Code.IsEmpty() {
		return "", &errs.SubmissionError{Err: errors.New("job has neither strategy id nor code")}
	}

	p := job.Params
	body := submitRequest{
		StrategyID:   job.Strategy.StrategyID,
		Code:         job.Strategy.Code,
		Symbol:       p.Symbol,
		Capital:      p.Capital,
		Order:        p.OrderSize,
		StartDate:    p.StartDate,
		EndDate:      p.EndDate,
		Resolution:   p.Resolution,
		FQ:           p.FQ,
		Commission:   p.Commission,
		Margin:       p.Margin,
		RiskFreeRate: p.RiskFreeRate,
		Pyramiding:   p.Pyramiding,
	}
	requestID := uuid.NewString()

	var resp submitResponse
	err := c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    c.submitURL,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"X-Request-Id": requestID,
		},
		Body: body,
	}, &resp)
	if err != nil {
		serr := classify(err)
		c.logger.Warn("submit failed",
			logger.String("request_id", requestID),
			logger.Int("status", serr.Status),
			logger.Bool("retryable", serr.Retryable),
			logger.Error(err))
		return "", serr
	}

	id := resp.jobID()
	if id == "" {
		return "", &errs.SubmissionError{Err: errors.New("response carries no job id")}
	}

	c.logger.Info("job submitted",
		logger.String("request_id", requestID),
		logger.String("job_id", id),
		logger.String("strategy_id", job.Strategy.StrategyID))
	return id, nil
}

func classify(err error) *errs.SubmissionError {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return &errs.SubmissionError{Status: se.StatusCode, Retryable: se.Temporary(), Err: err}
	}
	if errors.Is(err, xhttp.ErrDecode) {
		return &errs.SubmissionError{Err: fmt.Errorf("malformed response: %w", err)}
	}
	// transport failure or timeout
	return &errs.SubmissionError{Retryable: true, Err: err}
}
