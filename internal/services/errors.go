package services

import (
	"errors"
	"net"
	"strings"
)

// Messages returned by the analysis and visual calls before error mapping.
var (
	ErrEmptyResponse   = errors.New("AI returned an empty response.")
	ErrMalformedReport = errors.New("Failed to parse the trend report. The AI response was malformed.")
	ErrNoImage         = errors.New("No image generated by the model.")
	ErrEmptyMessage    = errors.New("message must not be empty")
)

const (
	msgAuthFailed    = "Authentication failed. Please check your API key and billing details."
	msgQuotaExceeded = "Service is currently busy (Quota Exceeded). Please try again later."
	msgSafetyBlocked = "The analysis was blocked by safety filters. Please try a different image."
	msgBadJSON       = "Failed to interpret the AI report. Please try a clearer image."
	msgNetwork       = "Network connection failed. Please check your internet."
	msgUnexpected    = "An unexpected error occurred during AI processing."

	// MsgAnalysisFallback is shown when an analysis fails without a message.
	MsgAnalysisFallback = "Failed to analyze trends. Please try a clearer image."
	// MsgChatFallback is shown when a chat reply fails without a message.
	MsgChatFallback = "Sorry, I encountered an error. Please try again."
	// MsgStoreFailed is stored on an analysis whose record could not be saved.
	MsgStoreFailed = "Something went wrong while saving your analysis. Please try again."
	// MsgInterrupted is stored on work cut short by a server restart.
	MsgInterrupted = "The analysis was interrupted. Please upload the photo again."
)

// AIError is a model failure rewritten for display. The raw cause stays
// reachable through Unwrap for logging.
type AIError struct {
	Message string
	Err     error
}

func (e *AIError) Error() string {
	return e.Message
}

func (e *AIError) Unwrap() error {
	return e.Err
}

var friendlyRules = []struct {
	needles []string
	message string
}{
	{[]string{"403", "API key", "401"}, msgAuthFailed},
	{[]string{"429", "quota", "exhausted"}, msgQuotaExceeded},
	{[]string{"SAFETY", "blocked", "finishReason"}, msgSafetyBlocked},
	{[]string{"SyntaxError", "JSON"}, msgBadJSON},
	{[]string{"fetch failed", "Network"}, msgNetwork},
}

// FriendlyError maps a raw model error to a user facing one. Rules are
// checked in order against the error text; an unmatched message passes
// through unchanged. Already mapped errors are returned as is.
func FriendlyError(err error) error {
	if err == nil {
		return nil
	}

	var aiErr *AIError
	if errors.As(err, &aiErr) {
		return aiErr
	}

	msg := err.Error()
	for _, rule := range friendlyRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return &AIError{Message: rule.message, Err: err}
			}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &AIError{Message: msgNetwork, Err: err}
	}

	if msg == "" {
		msg = msgUnexpected
	}
	return &AIError{Message: msg, Err: err}
}

// DisplayMessage returns the text to show for err, using fallback when the
// error carries no message.
func DisplayMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if msg := FriendlyError(err).Error(); msg != "" {
		return msg
	}
	return fallback
}
