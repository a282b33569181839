package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	ErrInvalidTarget       = errors.New("invalid target: one of to, user_ids or tags is required")
	ErrEmptyAudience       = errors.New("empty audience: no recipients matched")
	ErrTemplateDisabled    = errors.New("template disabled")
	ErrMissingPlaceholder  = errors.New("missing placeholder")
	ErrUnknownChannel      = errors.New("unknown channel")
	ErrInvalidScheduleTime = errors.New("invalid schedule time: must be in the future")
	ErrAlreadyFinalized    = errors.New("scheduled message already finalized")
	ErrNotDue              = errors.New("scheduled message not due yet")
	ErrDeliveryFailure     = errors.New("delivery failure")
	ErrQuotaExceeded       = errors.New("send quota exceeded")
)

type MissingPlaceholderError struct {
	Name string
}

func (e *MissingPlaceholderError) Error() string {
	return fmt.Sprintf("missing placeholder: %s", e.Name)
}

func (e *MissingPlaceholderError) Is(target error) bool {
	return target == ErrMissingPlaceholder
}

// DeliveryError is returned by the dispatch collaborator for a single
// recipient.
type DeliveryError struct {
	Channel Channel
	Address string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %s: %v", e.Channel, e.Address, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailure
}
