package geoip

import "github.com/CVDpl/go-live-geoip/internal/common"

// Errors returned by the reader. Test with errors.Is.
var (
	ErrFileOpen              = common.ErrFileOpen
	ErrIO                    = common.ErrIO
	ErrInvalidDatabase       = common.ErrInvalidDatabase
	ErrUnknownDatabaseFormat = common.ErrUnknownDatabaseFormat
	ErrCorruptDatabase       = common.ErrCorruptDatabase
	ErrInvalidData           = common.ErrInvalidData
	ErrAddressFamily         = common.ErrAddressFamily
	ErrInvalidAddress        = common.ErrInvalidAddress
	ErrClosed                = common.ErrClosed
)
