package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError: ответ с неуспешным HTTP-кодом
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// TransientError: сеть, таймаут, 5xx, 429: имеет смысл повторить
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError: 4xx (кроме 429) или битое тело ответа: повтор не поможет
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient используется как классификатор для retry.Policy
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

func classifyStatus(code int, url string) error {
	statusErr := &StatusError{StatusCode: code, URL: url}
	if code == http.StatusTooManyRequests || code >= 500 || code == http.StatusRequestTimeout {
		return Transient(statusErr)
	}
	return Permanent(statusErr)
}
