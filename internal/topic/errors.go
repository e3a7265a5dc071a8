package topic

import "errors"

// Domain errors for the topic package.
var (
	// ErrTopicNotFound is returned when a topic does not exist.
	ErrTopicNotFound = errors.New("topic: not found")

	// ErrTopicExists is returned when creating a topic that already exists.
	ErrTopicExists = errors.New("topic: already exists")

	// ErrTopicNotConfigured is returned when a topic has no model or backend yet.
	ErrTopicNotConfigured = errors.New("topic: not configured")

	// ErrTopicDisabled is returned when invoking a topic that is not enabled.
	ErrTopicDisabled = errors.New("topic: disabled")

	// ErrUnknownBackend is returned when a topic names a backend with no pipeline.
	ErrUnknownBackend = errors.New("topic: unknown backend")

	// ErrInvalidTopic is returned for invalid topic fields.
	ErrInvalidTopic = errors.New("topic: invalid topic")

	// ErrEmptyPrompt is returned when invoking with no text.
	ErrEmptyPrompt = errors.New("topic: empty prompt")
)
