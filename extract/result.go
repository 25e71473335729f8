package extract

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// Result is the structured output of one extraction call.
type Result struct {
	IsTransactional bool        `json:"isTransactional"`
	EmailType       string      `json:"emailType,omitempty"`
	Transactions    []Candidate `json:"transactions"`
	Notes           string      `json:"notes,omitempty"`
}

// AverageConfidence is the mean candidate confidence. ok is false when the
// result has no candidates.
func (r *Result) AverageConfidence() (avg decimal.Decimal, ok bool) {
	if len(r.Transactions) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, c := range r.Transactions {
		sum = sum.Add(c.Confidence)
	}
	return sum.Div(decimal.NewFromInt(int64(len(r.Transactions)))).Round(4), true
}

// InformationalNote is the note recorded on a non-transactional email.
func (r *Result) InformationalNote() string {
	if notes := strings.TrimSpace(r.Notes); notes != "" {
		return notes
	}
	emailType := r.EmailType
	if emailType == "" {
		emailType = "unknown"
	}
	return "non-transactional (type: " + emailType + ")"
}

// ParseResult decodes model output into a Result. Markdown code fences and
// text around the outermost JSON object are ignored.
func ParseResult(content string) (*Result, error) {
	body := stripCodeFence(strings.TrimSpace(content))
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return nil, errors.WithDetailf(errors.New("failed to parse extraction result: no JSON object in response"),
			"response length: %d", len(content))
	}

	var result Result
	if err := json.Unmarshal([]byte(body[start:end+1]), &result); err != nil {
		return nil, errors.Wrap(err, "failed to parse extraction result")
	}
	if result.Transactions == nil {
		result.Transactions = []Candidate{}
	}
	return &result, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
