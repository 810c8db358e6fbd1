package ghauth

import "errors"

var (
	ErrInvalidCode        = errors.New("ghauth: invalid or expired authorization code")
	ErrProfileFetchFailed = errors.New("ghauth: failed to fetch account profile")
	ErrRemoteCallFailed   = errors.New("ghauth: remote call failed")
)
