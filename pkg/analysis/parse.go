package analysis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/duynguyendang/lexa/pkg/common/errors"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// decode parses a model reply as JSON, first as-is, then from the first
// fenced code block. It returns ErrMalformedOutput when neither works.
func decode[T any](reply string) (T, error) {
	var out T
	strictErr := json.Unmarshal([]byte(strings.TrimSpace(reply)), &out)
	if strictErr == nil {
		return out, nil
	}

	if m := fencedJSON.FindStringSubmatch(reply); m != nil {
		var fenced T
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &fenced); err == nil {
			return fenced, nil
		}
	}
	return out, fmt.Errorf("%w: %v", errors.ErrMalformedOutput, strictErr)
}
