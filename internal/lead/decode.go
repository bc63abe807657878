package lead

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type discriminator struct {
	SubmissionType string `json:"submissionType"`
	RecaptchaToken string `json:"recaptchaToken"`
}

// Decode parses a request body into its submission variant and returns the
// optional bot-check token alongside it. Errors wrap ErrParse.
func Decode(body []byte) (Submission, string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, "", fmt.Errorf("%w: expected JSON object", ErrParse)
	}
	var disc discriminator
	if err := json.Unmarshal(trimmed, &disc); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	var sub Submission
	if disc.SubmissionType == SubmissionTypeBusiness {
		sub = &Business{}
	} else {
		sub = &Property{}
	}
	if err := json.Unmarshal(trimmed, sub); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	return sub, disc.RecaptchaToken, nil
}

// Fields flattens a submission to a JSON object map, the base for webhook payloads.
func Fields(sub Submission) (map[string]any, error) {
	raw, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal submission fields: %w", err)
	}
	return out, nil
}
