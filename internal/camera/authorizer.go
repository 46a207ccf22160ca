package camera

// AuthStatus is the camera permission state reported by the platform.
type AuthStatus int

const (
	AuthNotDetermined AuthStatus = iota
	AuthGranted
	AuthDenied
	AuthRestricted
)

// Authorizer reports and requests camera capture permission. Request is
// asynchronous: the result callback fires later, possibly on another
// goroutine, and must never be waited on by the caller.
type Authorizer interface {
	Status() AuthStatus
	Request(result func(granted bool))
}

// StaticAuthorizer is an Authorizer with a fixed status. A Request against a
// not-determined status resolves to granted.
type StaticAuthorizer struct {
	status AuthStatus
}

// NewStaticAuthorizer returns an Authorizer that always reports status.
func NewStaticAuthorizer(status AuthStatus) *StaticAuthorizer {
	return &StaticAuthorizer{status: status}
}

// Status implements Authorizer.Status.
func (a *StaticAuthorizer) Status() AuthStatus {
	return a.status
}

// Request implements Authorizer.Request.
func (a *StaticAuthorizer) Request(result func(granted bool)) {
	if a.status == AuthNotDetermined {
		a.status = AuthGranted
	}
	go result(a.status == AuthGranted)
}
