package gatt

import "github.com/pkg/errors"

// A SchemaError reports a problem detected while compiling a Server's
// services into an attribute table: two characteristics with the same UUID
// in one service, an included service that has not been compiled before
// the service that includes it, or a schema that needs more handles than
// the 16-bit handle space holds.
type SchemaError struct {
	msg string
}

func (e *SchemaError) Error() string { return "gatt: schema error: " + e.msg }

func schemaErrorf(format string, args ...interface{}) error {
	return &SchemaError{msg: errors.Errorf(format, args...).Error()}
}

// Status* mirror the ATT error codes a ReadHandler/WriteHandler may report;
// see attEcode* in att.go for the full wire table.
const (
	StatusSuccess               = attEcodeSuccess
	StatusReadNotPermitted      = attEcodeReadNotPerm
	StatusWriteNotPermitted     = attEcodeWriteNotPerm
	StatusInvalidOffset         = attEcodeInvalidOffset
	StatusInsufficientAuth      = attEcodeAuthentication
	StatusInsufficientAuthz     = attEcodeAuthorization
	StatusInsufficientEncKeySz  = attEcodeInsuffEncrKeySize
	StatusInvalidAttributeLen   = attEcodeInvalAttrValueLen
	StatusUnexpectedError       = attEcodeUnlikely
	StatusInsufficientEncryption = attEcodeInsuffEnc
)
