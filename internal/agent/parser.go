package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cruciblelabs/formulad/internal/memory"
)

// ErrUnparsableCandidate is returned when a generation response holds no
// decodable candidate JSON or the decoded formulation is empty.
var ErrUnparsableCandidate = errors.New("agent: unparsable candidate response")

var jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ParseCandidate extracts the candidate formulation from a generation
// response. The JSON payload is taken from a ```json fence when present,
// otherwise the whole trimmed response is tried. Confidence values
// outside [0, 1] are clamped.
func ParseCandidate(output string) (*memory.Candidate, error) {
	payload, err := extractJSON(output)
	if err != nil {
		return nil, err
	}

	var candidate memory.Candidate
	if err := json.Unmarshal([]byte(payload), &candidate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableCandidate, err)
	}
	if candidate.Formulation.Empty() {
		return nil, fmt.Errorf("%w: formulation has no components", ErrUnparsableCandidate)
	}

	candidate.Confidence = clamp01(candidate.Confidence)
	return &candidate, nil
}

// observation is the parsed self-critique response.
type observation struct {
	Summary    string   `json:"summary"`
	Issues     []string `json:"issues"`
	Sufficient bool     `json:"sufficient"`
}

func parseObservation(output string) (*observation, error) {
	payload, err := extractJSON(output)
	if err != nil {
		return nil, err
	}

	var obs observation
	if err := json.Unmarshal([]byte(payload), &obs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableCandidate, err)
	}
	return &obs, nil
}

func extractJSON(output string) (string, error) {
	if match := jsonFence.FindStringSubmatch(output); match != nil {
		return match[1], nil
	}
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}
	return "", fmt.Errorf("%w: no JSON payload found", ErrUnparsableCandidate)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
