package serving

import (
	"errors"
	"net/http"
)

// Kind classifies a service error for transport mapping.
type Kind int

const (
	KindUnknown Kind = iota
	// KindModelUnavailable means no artifact has been installed.
	KindModelUnavailable
	// KindBadRequest covers missing, malformed or rejected fields.
	KindBadRequest
	// KindPrediction covers any failure or panic inside inference.
	KindPrediction
)

func (k Kind) String() string {
	switch k {
	case KindModelUnavailable:
		return "model_unavailable"
	case KindBadRequest:
		return "bad_request"
	case KindPrediction:
		return "prediction_error"
	default:
		return "unknown"
	}
}

// ErrAlreadyLoaded is returned by Install once a model is in place.
var ErrAlreadyLoaded = errors.New("model already loaded")

// Error is returned by Service.Predict. Message is the client-facing detail.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindModelUnavailable:
		return http.StatusInternalServerError
	case KindBadRequest, KindPrediction:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func ModelUnavailable() *Error {
	return &Error{Kind: KindModelUnavailable, Message: "Model not loaded"}
}

func BadRequest(message string, err error) *Error {
	return &Error{Kind: KindBadRequest, Message: message, Err: err}
}

func PredictionError(err error) *Error {
	return &Error{Kind: KindPrediction, Message: "Prediction error: " + err.Error(), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
