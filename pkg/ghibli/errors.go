package ghibli

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

// ErrorKind classifies why a request to the API failed.
type ErrorKind int

const (
	// KindInvalidRequest means the request URL couldn't be constructed.
	KindInvalidRequest ErrorKind = iota + 1
	// KindInvalidResponse means the transport returned no usable response.
	KindInvalidResponse
	// KindHTTP means the server responded with a status code outside of 200-299.
	KindHTTP
	// KindDecoding means the response body didn't match the expected film shape.
	KindDecoding
	// KindNetwork means any other transport failure, including cancellation.
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid request"
	case KindInvalidResponse:
		return "invalid response"
	case KindHTTP:
		return "HTTP error"
	case KindDecoding:
		return "decoding error"
	case KindNetwork:
		return "network error"
	default:
		return "unknown error"
	}
}

// APIError is the only error type returned by the Client.
// StatusCode is only set for KindHTTP. Err is the underlying cause, if there is one.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message(language.English)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

var supportedLanguages = []language.Tag{
	language.English,
	language.BrazilianPortuguese,
}

var matcher = language.NewMatcher(supportedLanguages)

// Indexed like supportedLanguages.
var messages = []map[ErrorKind]string{
	{
		KindInvalidRequest:  "invalid URL",
		KindInvalidResponse: "invalid server response",
		KindHTTP:            "HTTP error: %d",
		KindDecoding:        "failed to decode data",
		KindNetwork:         "connection error; check your network",
	},
	{
		KindInvalidRequest:  "URL inválida",
		KindInvalidResponse: "Resposta inválida do servidor",
		KindHTTP:            "Erro HTTP: %d",
		KindDecoding:        "Erro ao decodificar os dados",
		KindNetwork:         "Erro de conexão. Verifique sua internet.",
	},
}

// Message returns the user-facing message for the error in the supported language that matches lang best.
// English is used if nothing matches.
func (e *APIError) Message(lang language.Tag) string {
	_, index, _ := matcher.Match(lang)
	msg, ok := messages[index][e.Kind]
	if !ok {
		return e.Kind.String()
	}
	if e.Kind == KindHTTP {
		return fmt.Sprintf(msg, e.StatusCode)
	}
	return msg
}

// UserMessage returns a message for showing err to a user.
// For an *APIError that's its localized message, for any other error it's err.Error().
func UserMessage(err error, lang language.Tag) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message(lang)
	}
	return err.Error()
}

// IsKind reports whether any error in err's chain is an *APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// StatusCode returns the HTTP status code of an *APIError of kind KindHTTP in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind == KindHTTP {
		return apiErr.StatusCode
	}
	return 0
}
