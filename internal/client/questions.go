package client

import (
	"context"
	"net/http"

	"github.com/stemsi/exstem-session/internal/model"
)

// QuestionClient fetches question lists and start-time eligibility.
type QuestionClient struct {
	*Client
}

// NewQuestionClient wraps c.
func NewQuestionClient(c *Client) *QuestionClient {
	return &QuestionClient{Client: c}
}

// FetchQuestions returns the exam's ordered question list.
func (c *QuestionClient) FetchQuestions(ctx context.Context, examID, authToken string) ([]model.Question, error) {
	var out struct {
		Questions []model.Question `json:"questions"`
	}
	if err := c.do(ctx, http.MethodGet, examPath(examID, "/questions"), authToken, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

// CheckEligibility asks whether a scheduled exam may start now.
func (c *QuestionClient) CheckEligibility(ctx context.Context, examID, authToken string) (model.Eligibility, error) {
	var out model.Eligibility
	if err := c.do(ctx, http.MethodGet, examPath(examID, "/eligibility"), authToken, nil, nil, &out); err != nil {
		return model.Eligibility{}, err
	}
	return out, nil
}
