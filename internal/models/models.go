// Package models defines the core data structures for ChatMaestro.
//
// It includes the snapshot and context aggregates consumed by the coaching engines, the
// interventions and feedback items they emit, their settings, and the JSON envelopes used
// by the HTTP API. Types here are shared across the engine, store and api packages.
package models

import (
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyParticipantID  = errors.New("participant id cannot be empty")
	ErrEmptyPhoneNumber    = errors.New("phone_number is required")
	ErrInvalidTimezone     = errors.New("invalid timezone")
	ErrInvalidQuietHours   = errors.New("quiet hours must be in HH:MM format")
	ErrInvalidPriority     = errors.New("invalid priority")
	ErrInvalidResponseKind = errors.New("invalid response kind")
	ErrEmptyInterventionID = errors.New("intervention_id is required")
	ErrNegativeLimit       = errors.New("daily limit cannot be negative")
	ErrInvalidTone         = errors.New("invalid tone preference")
	ErrParticipantNotFound = errors.New("participant not found")
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusRecorded indicates data was successfully recorded via API.
	APIStatusRecorded APIStatus = "recorded"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithMessage(message).WithResult(result).Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}

// Recorded creates a recorded API response.
func Recorded() APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusRecorded).Build()
}

// Participant is a coached user known to the host application.
type Participant struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Timezone    string    `json:"timezone,omitempty"` // e.g., "Europe/Madrid"
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ParticipantRequest is the payload for registering or updating a participant.
type ParticipantRequest struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phone_number"`
	Timezone    string `json:"timezone,omitempty"`
}

// Validate validates a ParticipantRequest.
func (r *ParticipantRequest) Validate() error {
	if r.ID == "" {
		return ErrEmptyParticipantID
	}
	if r.PhoneNumber == "" {
		return ErrEmptyPhoneNumber
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return ErrInvalidTimezone
		}
	}
	return nil
}
