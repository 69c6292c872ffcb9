package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// TimeLayout формат поля occurred_at во входящих сообщениях
const TimeLayout = "2006-01-02 15:04:05"

// Event представляет валидированное событие из очереди
type Event struct {
	Type       string    `json:"type"`
	Value      float64   `json:"value"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AggregateRecord агрегат по одному типу события
type AggregateRecord struct {
	Type  string  `json:"type"`
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
}

// Коды ошибок валидации
type ValidationCode string

const (
	MalformedEncoding ValidationCode = "malformed_encoding"
	MissingField      ValidationCode = "missing_field"
	InvalidValue      ValidationCode = "invalid_value"
)

// ValidationError ошибка разбора тела сообщения; такие сообщения
// удаляются из очереди без повторной обработки
type ValidationError struct {
	Code  ValidationCode
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case MissingField:
		return fmt.Sprintf("validation: missing field %q", e.Field)
	case InvalidValue:
		return fmt.Sprintf("validation: invalid value for field %q", e.Field)
	default:
		if e.Err != nil {
			return fmt.Sprintf("validation: malformed message body: %v", e.Err)
		}
		return "validation: malformed message body"
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate разбирает тело сообщения в Event. Чистая функция без побочных
// эффектов; невалидный ввод никогда не попадает в хранилище.
func Validate(raw []byte) (*Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ValidationError{Code: MalformedEncoding, Err: err}
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, &ValidationError{Code: MissingField, Field: "type"}
	}
	var eventType string
	if err := json.Unmarshal(rawType, &eventType); err != nil || eventType == "" {
		return nil, &ValidationError{Code: InvalidValue, Field: "type", Err: err}
	}

	rawValue, ok := fields["value"]
	if !ok {
		return nil, &ValidationError{Code: MissingField, Field: "value"}
	}
	var value float64
	if err := json.Unmarshal(rawValue, &value); err != nil {
		return nil, &ValidationError{Code: InvalidValue, Field: "value", Err: err}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, &ValidationError{Code: InvalidValue, Field: "value"}
	}

	rawOccurred, ok := fields["occurred_at"]
	if !ok {
		return nil, &ValidationError{Code: MissingField, Field: "occurred_at"}
	}
	var occurredStr string
	if err := json.Unmarshal(rawOccurred, &occurredStr); err != nil {
		return nil, &ValidationError{Code: InvalidValue, Field: "occurred_at", Err: err}
	}
	occurredAt, err := time.Parse(TimeLayout, occurredStr)
	if err != nil {
		return nil, &ValidationError{Code: InvalidValue, Field: "occurred_at", Err: err}
	}

	return &Event{
		Type:       eventType,
		Value:      value,
		OccurredAt: occurredAt,
	}, nil
}

// MarshalJSON сериализует occurred_at в том же формате, что и на входе
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type       string  `json:"type"`
		Value      float64 `json:"value"`
		OccurredAt string  `json:"occurred_at"`
	}
	return json.Marshal(wire{
		Type:       e.Type,
		Value:      e.Value,
		OccurredAt: e.OccurredAt.Format(TimeLayout),
	})
}
