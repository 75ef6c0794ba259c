package apppage

import "fmt"

// FailureKind classifies why a request could not be answered with a page.
type FailureKind int

const (
	RouteNotFound FailureKind = iota + 1
	MethodMismatch
	SessionUnavailable
	RemoteCallFailure
	RenderFailure
	UnexpectedFailure
)

func (k FailureKind) String() string {
	switch k {
	case RouteNotFound:
		return "route_not_found"
	case MethodMismatch:
		return "method_mismatch"
	case SessionUnavailable:
		return "session_unavailable"
	case RemoteCallFailure:
		return "remote_call_failure"
	case RenderFailure:
		return "render_failure"
	case UnexpectedFailure:
		return "unexpected_failure"
	default:
		return fmt.Sprintf("failure_kind(%d)", int(k))
	}
}

// Failure is a classified request failure. Message is shown to the client.
type Failure struct {
	Kind    FailureKind
	Status  int
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }
