// Package corerrors defines the categorical error taxonomy the core
// controller surfaces to front ends and to the reconciler. Errors are
// categories, not per-resource-kind types: a NotFound for a replica and
// a NotFound for a volume carry the same Code and differ only in the
// wrapped message.
package corerrors

import (
	"errors"
	"fmt"
)

// Code is one category from the error taxonomy.
type Code string

const (
	NotFound                            Code = "NotFound"
	AlreadyExists                       Code = "AlreadyExists"
	ReCreateMismatch                     Code = "ReCreateMismatch"
	InUse                                Code = "InUse"
	Busy                                 Code = "Busy"
	StoreDirty                           Code = "StoreDirty"
	PendingCreation                      Code = "PendingCreation"
	PendingDeletion                      Code = "PendingDeletion"
	InvalidUUID                         Code = "InvalidUuid"
	InvalidArguments                     Code = "InvalidArguments"
	InvalidFilter                        Code = "InvalidFilter"
	NotEnoughResources                   Code = "NotEnoughResources"
	ReplicaCreateNumber                  Code = "ReplicaCreateNumber"
	SnapshotMaxLimit                     Code = "SnapshotMaxLimit"
	FrontendNodeNotAllowed               Code = "FrontendNodeNotAllowed"
	StoreGet                             Code = "StoreGet"
	Store                                Code = "Store"
	Internal                             Code = "Internal"
	ServiceBusy                          Code = "ServiceBusy"
	ServiceShutdown                      Code = "ServiceShutdown"
	SwitchoverNotAllowedWhenHAisDisabled Code = "SwitchoverNotAllowedWhenHAisDisabled"
)

// Error is a categorical control-plane error. It always names the
// resource kind and id it concerns, so callers and logs can tell a
// NotFound-replica from a NotFound-volume without a distinct Go type
// per resource kind.
type Error struct {
	Code    Code
	Kind    string
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Code, e.Kind, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s %s", e.Code, e.Kind, e.ID)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a categorical error for the given resource.
func New(code Code, kind, id string) *Error {
	return &Error{Code: code, Kind: kind, ID: id}
}

// Wrap builds a categorical error that carries an underlying cause,
// typically a node-RPC or PSC failure.
func Wrap(code Code, kind, id string, err error) *Error {
	return &Error{Code: code, Kind: kind, ID: id, Err: err}
}

// Withf attaches a formatted message to an existing categorical error.
func (e *Error) Withf(format string, args ...interface{}) *Error {
	out := *e
	out.Message = fmt.Sprintf(format, args...)
	return &out
}

// Is reports whether err carries the given code, unwrapping as needed.
func Is(err error, code Code) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or Internal if err is not a
// categorical Error.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return Internal
}

// EinvalDelete maps a node-RPC failure to the OnCreateFail policy it
// dictates (§4.4): InvalidArguments/InvalidUUID/NotFound before any retryable step
// has run means no side effect could have landed, so the spec is
// deleted outright; everything else is assumed to possibly have landed
// and is handed to the garbage collector via SetDeleting.
func EinvalDelete(err error) bool {
	code := CodeOf(err)
	return code == InvalidArguments || code == NotFound || code == InvalidUUID
}
