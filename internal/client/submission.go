package client

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// IdempotencyHeader carries the attempt id so the backend can accept only the
// first submission of an attempt.
const IdempotencyHeader = "Idempotency-Key"

// SubmissionClient posts answers to the submission service.
type SubmissionClient struct {
	*Client
	now func() time.Time
}

// NewSubmissionClient wraps c.
func NewSubmissionClient(c *Client) *SubmissionClient {
	return &SubmissionClient{Client: c, now: time.Now}
}

// Submit sends the answers and returns the scored result untouched.
func (c *SubmissionClient) Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	headers := map[string]string{IdempotencyHeader: req.AttemptID}

	var payload json.RawMessage
	if err := c.do(ctx, http.MethodPost, examPath(req.ExamID, "/submit"), req.AuthToken, headers, req, &payload); err != nil {
		return nil, err
	}
	return &model.SubmitResult{
		ExamID:      req.ExamID,
		Payload:     payload,
		SubmittedAt: c.now(),
	}, nil
}
