package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattsoldo/email-extractor-sub001/errors"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorUnknown},
		{"context deadline", errors.Wrap(context.DeadlineExceeded, "call"), ErrorTimeout},
		{"timeout text", errors.New("request timeout after 120s"), ErrorTimeout},
		{"schema", errors.New("response failed schema validation"), ErrorSchemaValidation},
		{"parse", errors.New("failed to parse extraction result"), ErrorParse},
		{"json syntax", errors.New("invalid character 'x' looking for beginning of value"), ErrorParse},
		{"api", errors.New("API request failed with status 401: unauthorized"), ErrorAPI},
		{"rate limit", errors.New("rate limit reached"), ErrorAPI},
		{"other", errors.New("something odd"), ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}
