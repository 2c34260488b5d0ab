package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateMessageEnvelope(msg *MessageEnvelope) error {
	if msg == nil {
		return &ValidationError{
			Field:   "envelope",
			Message: "message envelope cannot be nil",
		}
	}

	if msg.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "message ID is required",
		}
	}

	if msg.Type == "" {
		return &ValidationError{
			Field:   "type",
			Message: "message type is required",
		}
	}

	if len(msg.Payload) == 0 {
		return &ValidationError{
			Field:   "payload",
			Message: "message payload cannot be empty",
		}
	}

	return nil
}

func (r *ExecutionRequest) Validate() error {
	if r.RuleID == "" && r.DatasetID == "" {
		return &ValidationError{
			Field:   "rule_id",
			Message: "either rule_id or dataset_id is required",
		}
	}

	if r.StartedAt != nil && r.StartedAt.IsZero() {
		return &ValidationError{
			Field:   "started_at",
			Message: "started_at must not be the zero time",
		}
	}

	return nil
}
