package llm

import "regexp"

// secretPattern pairs a detection regex with its redaction replacement.
type secretPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// secretPatterns lists the patterns scrubbed from outbound prompts.
// Order matters: more specific patterns run first.
var secretPatterns = []secretPattern{
	// Environment variables with sensitive data
	{
		regexp.MustCompile(`(OPENAI_API_KEY|ANTHROPIC_API_KEY|QDRANT_API_KEY|NATS_CREDS|AWS_SECRET_ACCESS_KEY)\s*=\s*([^\s]+)`),
		"$1=[REDACTED:ENV_SECRET]",
	},
	// Anthropic API keys (sk-ant- followed by many chars)
	{
		regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`),
		"[REDACTED:ANTHROPIC_KEY]",
	},
	// OpenAI API keys (sk- followed by 20+ alphanumeric chars)
	{
		regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
		"[REDACTED:OPENAI_KEY]",
	},
	// Generic API keys in various formats
	{
		regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*["']?\s*([^"'\s]{8,})["']?`),
		"$1=[REDACTED:API_KEY]",
	},
	// Bearer tokens
	{
		regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.=]{20,}`),
		"[REDACTED:BEARER_TOKEN]",
	},
	// Tokens
	{
		regexp.MustCompile(`(?i)(token|auth[_-]?token)\s*[:=]\s*["']?\s*([^"'\s]{8,})["']?`),
		"$1=[REDACTED:TOKEN]",
	},
	// Passwords
	{
		regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["']?\s*([^"'\s]{4,})["']?`),
		"$1=[REDACTED:PASSWORD]",
	},
	// Private keys
	{
		regexp.MustCompile(`(?i)-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----[\s\S]*?-----END (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
		"[REDACTED:PRIVATE_KEY]",
	},
}

// ScrubSecrets removes common secret patterns from content before it is
// sent to a hosted API. Task descriptions and trajectories occasionally
// carry pasted configuration; keys, tokens, and passwords must not leave
// the process.
func ScrubSecrets(content string) string {
	result := content
	for _, p := range secretPatterns {
		result = p.regex.ReplaceAllString(result, p.replacement)
	}
	return result
}
