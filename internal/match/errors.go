package match

import "errors"

var (
	// ErrNoFaceDetected means the query photo was processed by the active
	// backend but no usable face was found in it. No candidate comparisons
	// are performed in that case.
	ErrNoFaceDetected = errors.New("no face detected in query photo")

	// ErrNoProvider means no provider config is active and enabled, so the
	// requested operation cannot run at all.
	ErrNoProvider = errors.New("no active recognition provider")
)
