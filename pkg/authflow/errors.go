package authflow

import "errors"

var (
	ErrAuthInitiationFailed = errors.New("authflow: authorization could not be started")
	ErrAuthorizationDenied  = errors.New("authflow: authorization denied by provider")
	ErrLoginTimeout         = errors.New("authflow: timed out waiting for authorization redirect")
	ErrLoginCanceled        = errors.New("authflow: login attempt canceled")
)
