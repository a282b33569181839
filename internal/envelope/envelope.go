// Package envelope implements the {code, msg, data} wire contract shared by
// every endpoint. Callers branch on Code == 0 only.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"msgcenter/internal/models"
)

const (
	CodeOK                  = 0
	CodeInvalidInput        = 1001
	CodeNotFound            = 1002
	CodeAlreadyExists       = 1003
	CodeInvalidTarget       = 2001
	CodeEmptyAudience       = 2002
	CodeTemplateDisabled    = 3001
	CodeMissingPlaceholder  = 3002
	CodeUnknownChannel      = 3003
	CodeInvalidScheduleTime = 4001
	CodeAlreadyFinalized    = 4002
	CodeNotDue              = 4003
	CodeDeliveryFailure     = 5001
	CodeQuotaExceeded       = 5002
	CodeInternal            = 9999
)

type Envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

func (e Envelope) OK() bool {
	return e.Code == CodeOK
}

// Success wraps data. A nil data leaves the field out of the wire form.
func Success(data any) Envelope {
	return Envelope{Code: CodeOK, Data: data}
}

// Failure never carries data. An empty msg is replaced by a generic text so
// failures always have a diagnostic.
func Failure(code int, msg string) Envelope {
	if code == CodeOK {
		code = CodeInternal
	}
	if msg == "" {
		msg = defaultMessage(code)
	}
	return Envelope{Code: code, Msg: msg}
}

// codes is matched in order. A delivery failure comes first so the cause
// it wraps (an unregistered channel, say) does not decide the code.
var codes = []struct {
	err  error
	code int
}{
	{models.ErrDeliveryFailure, CodeDeliveryFailure},
	{models.ErrQuotaExceeded, CodeQuotaExceeded},
	{models.ErrInvalidTarget, CodeInvalidTarget},
	{models.ErrEmptyAudience, CodeEmptyAudience},
	{models.ErrTemplateDisabled, CodeTemplateDisabled},
	{models.ErrMissingPlaceholder, CodeMissingPlaceholder},
	{models.ErrUnknownChannel, CodeUnknownChannel},
	{models.ErrInvalidScheduleTime, CodeInvalidScheduleTime},
	{models.ErrAlreadyFinalized, CodeAlreadyFinalized},
	{models.ErrNotDue, CodeNotDue},
	{models.ErrInvalidInput, CodeInvalidInput},
	{models.ErrNotFound, CodeNotFound},
	{models.ErrAlreadyExists, CodeAlreadyExists},
}

// CodeOf maps an error to its wire code.
func CodeOf(err error) int {
	if err == nil {
		return CodeOK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// FromError builds the failure envelope for err. Domain errors keep their
// text; anything unclassified is reported as an internal error.
func FromError(err error) Envelope {
	code := CodeOf(err)
	if code == CodeOK {
		return Success(nil)
	}
	if code == CodeInternal {
		return Failure(code, "")
	}
	return Failure(code, err.Error())
}

func defaultMessage(code int) string {
	switch code {
	case CodeInvalidInput:
		return "invalid input"
	case CodeNotFound:
		return "not found"
	case CodeInternal:
		return "internal error"
	default:
		return fmt.Sprintf("request failed with code %d", code)
	}
}

// Write encodes env as the response body. Business failures are reported in
// the body with HTTP 200; status is only for transport-level problems.
func Write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func WriteOK(w http.ResponseWriter, data any) {
	Write(w, http.StatusOK, Success(data))
}

func WriteError(w http.ResponseWriter, err error) {
	Write(w, http.StatusOK, FromError(err))
}

// Error is the client-side view of a failure envelope. Its text is the
// server's msg, unchanged.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// Decode reads an envelope from r. On code != 0 it returns *Error; on
// success it unmarshals data into out when both are present.
func Decode(r io.Reader, out any) error {
	var raw struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if raw.Code != CodeOK {
		return &Error{Code: raw.Code, Msg: raw.Msg}
	}
	data := bytes.TrimSpace(raw.Data)
	if out == nil || len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode envelope data: %w", err)
	}
	return nil
}
