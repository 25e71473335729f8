package extract

import (
	"context"
	"strings"

	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// ErrorType classifies a failed extraction call for the error log.
type ErrorType string

const (
	ErrorSchemaValidation ErrorType = "schema-validation"
	ErrorAPI              ErrorType = "api-error"
	ErrorTimeout          ErrorType = "timeout"
	ErrorParse            ErrorType = "parse-error"
	ErrorUnknown          ErrorType = "unknown"
)

// ClassifyError categorizes an extraction error based on its message.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "timeout") || strings.Contains(errLower, "timed out") ||
		strings.Contains(errLower, "deadline exceeded"):
		return ErrorTimeout

	case strings.Contains(errLower, "schema") || strings.Contains(errLower, "validation"):
		return ErrorSchemaValidation

	case strings.Contains(errLower, "parse") || strings.Contains(errLower, "unmarshal") ||
		strings.Contains(errLower, "invalid json") || strings.Contains(errLower, "invalid character"):
		return ErrorParse

	case strings.Contains(errLower, "api") || strings.Contains(errLower, "status") ||
		strings.Contains(errLower, "rate limit"):
		return ErrorAPI

	default:
		return ErrorUnknown
	}
}
