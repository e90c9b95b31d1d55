package classify

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

	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/metrics"
	"mailtriage/pkg/trace"
)

// Request 分类请求中的单封邮件
type Request struct {
	EmailID     string `json:"email_id"`
	Subject     string `json:"subject"`
	Sender      string `json:"sender"`
	BodyExcerpt string `json:"body_excerpt"`
}

// RequestFor builds the classifier request for an email.
func RequestFor(email model.EmailRecord) Request {
	return Request{
		EmailID:     email.ID,
		Subject:     email.Subject,
		Sender:      email.Sender,
		BodyExcerpt: email.BodyExcerpt,
	}
}

// Result 单封邮件的分类结果，Raw 与 Err 二选一
type Result struct {
	EmailID string
	Raw     *RawClassification
	Err     error
}

// Classifier 黑盒分类器，按批调用；单项失败不影响整批
type Classifier interface {
	ClassifyBatch(ctx context.Context, reqs []Request) ([]Result, error)
}

// StatusError 分类服务返回的非 200 状态
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("classifier service status %d: %s", e.Code, e.Body)
}

// Retryable 5xx 与 429 可重试，其余 4xx 不重试
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// HTTPClient 调用外部分类服务 POST {baseURL}/classify
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewHTTPClient 创建分类服务客户端，breaker 为 nil 时不做熔断
func NewHTTPClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		logger:     logger,
	}
}

type classifyRequest struct {
	Emails []Request `json:"emails"`
}

type classifyResponse struct {
	Results []json.RawMessage `json:"results"`
}

type itemError struct {
	EmailID string `json:"email_id"`
	Error   string `json:"error"`
}

// ClassifyBatch sends one batch. Items missing from the response come back
// as per-item errors.
func (c *HTTPClient) ClassifyBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	var resp classifyResponse
	call := func() error {
		return c.post(ctx, reqs, &resp)
	}

	start := time.Now()
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	metrics.RecordClassifierCall(callStatus(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	return c.collect(reqs, resp), nil
}

func (c *HTTPClient) post(ctx context.Context, reqs []Request, out *classifyResponse) error {
	b, err := json.Marshal(classifyRequest{Emails: reqs})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName(), traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) collect(reqs []Request, resp classifyResponse) []Result {
	byID := make(map[string]Result, len(resp.Results))
	for _, item := range resp.Results {
		var ie itemError
		if err := json.Unmarshal(item, &ie); err != nil {
			c.logger.Warn("skip undecodable classifier item", zap.Error(err))
			continue
		}
		if ie.Error != "" {
			byID[ie.EmailID] = Result{EmailID: ie.EmailID, Err: errors.New(ie.Error)}
			continue
		}

		var raw RawClassification
		if err := json.Unmarshal(item, &raw); err != nil {
			byID[ie.EmailID] = Result{EmailID: ie.EmailID, Err: fmt.Errorf("%w: %v", model.ErrValidation, err)}
			continue
		}
		byID[raw.EmailID] = Result{EmailID: raw.EmailID, Raw: &raw}
	}

	results := make([]Result, len(reqs))
	for i, r := range reqs {
		res, ok := byID[r.EmailID]
		if !ok {
			res = Result{EmailID: r.EmailID, Err: errors.New("missing from batch response")}
		}
		results[i] = res
	}
	return results
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
