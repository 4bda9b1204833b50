package judge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cruciblelabs/formulad/internal/memory"
)

// ErrUnparsableVerdict is returned when a judge response is missing the
// status line or carries a status outside {SUCCESS, FAILURE}.
var ErrUnparsableVerdict = errors.New("unparsable judge verdict")

// Verdict is the judge's classification of a completed trajectory.
type Verdict struct {
	// Status is the success/failure outcome.
	Status memory.Outcome `json:"status"`
	// Thoughts is the judge's analysis.
	Thoughts string `json:"thoughts"`
	// Reason explains a failure. Empty on success.
	Reason string `json:"reason,omitempty"`
}

// ParseVerdict parses a fixed-format judge response:
//
//	Thoughts: <analysis>
//	Status: SUCCESS | FAILURE
//	Reason: <explanation, failures only>
//
// The status value must match exactly (case-insensitively) after trimming.
// A missing status line, or a value such as "SUCCESSFUL" or "UNSUCCESSFUL",
// is an error; the verdict is never guessed from a partial match.
func ParseVerdict(output string) (*Verdict, error) {
	verdict := &Verdict{}
	statusSeen := false

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Thoughts:"):
			verdict.Thoughts = strings.TrimSpace(strings.TrimPrefix(line, "Thoughts:"))

		case strings.HasPrefix(line, "Status:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "Status:"))
			switch strings.ToUpper(raw) {
			case "SUCCESS":
				verdict.Status = memory.OutcomeSuccess
			case "FAILURE":
				verdict.Status = memory.OutcomeFailure
			default:
				return nil, fmt.Errorf("%w: unrecognized status %q", ErrUnparsableVerdict, raw)
			}
			statusSeen = true

		case strings.HasPrefix(line, "Reason:"):
			verdict.Reason = strings.TrimSpace(strings.TrimPrefix(line, "Reason:"))
		}
	}

	if !statusSeen {
		return nil, fmt.Errorf("%w: no Status line in response", ErrUnparsableVerdict)
	}
	return verdict, nil
}
