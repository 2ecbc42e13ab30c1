package engine

import "errors"

var (
	// ErrDecodeFailure marks an update whose value could not be turned into a sample.
	ErrDecodeFailure = errors.New("decode failure")
	// ErrConfiguration marks a catalog entry that could not be loaded. Only
	// the entity it names is skipped.
	ErrConfiguration = errors.New("configuration error")
	// ErrFilterAuthority is returned by Enable and Disable on groups whose
	// enablement is driven by a filter.
	ErrFilterAuthority = errors.New("group enablement is controlled by its filter")
	// ErrUnknownGroup is returned for group ids the engine does not know.
	ErrUnknownGroup = errors.New("unknown group")
	// ErrUnknownChannel is returned for channel ids or names the engine does not know.
	ErrUnknownChannel = errors.New("unknown channel")
)
