package wire

import "errors"

var (
	errInvalidAddr    = errors.New("address is not a valid IPv4 address")
	errInvalidVersion = errors.New("unsupported igmp version")
)
