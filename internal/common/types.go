package common

import "errors"

// File format constants
var (
	// MetadataMarker precedes the metadata map at the end of a database file.
	MetadataMarker = []byte("\xAB\xCD\xEFMaxMind.com")
)

const (
	// MetadataSearchWindow bounds the backward scan for MetadataMarker.
	MetadataSearchWindow = 128 * 1024

	// DataSectionSeparator is the gap between the search tree and the value section.
	DataSectionSeparator = 16

	// SupportedMajorVersion is the only binary format major version we read.
	SupportedMajorVersion = 2
)

// IP versions
const (
	IPv4 uint16 = 4
	IPv6 uint16 = 6
)

// Bit widths of the search tree per IP version.
const (
	IPv4Depth = 32
	IPv6Depth = 128

	// IPv4SubtreeDepth is where IPv4 addresses start inside an IPv6 tree.
	IPv4SubtreeDepth = 96
)

// Decoder limits
const (
	DefaultMaxPointerChain = 8
	DefaultMaxDepth        = 512
	DefaultMaxNodes        = 1 << 20
)

// Common errors
var (
	ErrFileOpen              = errors.New("error opening the specified database file")
	ErrIO                    = errors.New("IO error")
	ErrInvalidDatabase       = errors.New("invalid database")
	ErrUnknownDatabaseFormat = errors.New("unknown database format")
	ErrCorruptDatabase       = errors.New("corrupt database")
	ErrInvalidData           = errors.New("invalid data")
	ErrAddressFamily         = errors.New("address family not supported by database")
	ErrInvalidAddress        = errors.New("invalid address")
	ErrClosed                = errors.New("database is closed")
)

// Logger provides structured logging.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)
