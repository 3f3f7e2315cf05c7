// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error. The last dotted
// segment is the reason used for classification.
type Code string

const (
	CodeStoreEntityNotFound       Code = "store.entity.get.not_found"
	CodeStoreScopeNotFound        Code = "store.scope.check.not_found"
	CodeStoreInvalidInput         Code = "store.input.invalid_input"
	CodeStoreConflict             Code = "store.entity.update.conflict"
	CodeStoreDatabaseFailure      Code = "store.database.failure"
	CodeStoreBackendUnsupported   Code = "store.backend.unsupported"
	CodeStoreHierarchyCorrupt     Code = "store.hierarchy.corrupt"
	CodeStoreArchiveCorrupt       Code = "store.archive.digest.corrupt"
	CodeStorePromotionNotFound    Code = "store.tier.promote.not_found"
	CodeStoreEncodingFailure      Code = "store.codec.failure"
	CodeStoreIndexFailure         Code = "store.index.failure"
	CodeStoreVectorDimensionValue Code = "store.vector.dimension.invalid_input"

	CodeCompressCapacityExceeded Code = "compress.target.capacity_exceeded"
	CodeCompressInvalidInput     Code = "compress.input.invalid_input"

	CodeAllocatorCapacityExceeded Code = "allocator.pinned.capacity_exceeded"
	CodeAllocatorInvalidInput     Code = "allocator.request.invalid_input"

	CodeRetrievalInvalidInput Code = "retrieval.query.invalid_input"

	CodeWindowTemplateInvalid Code = "window.template.invalid"
	CodeWindowSectionMissing  Code = "window.section.required.invalid_input"

	CodeProviderUnavailable     Code = "provider.upstream.unavailable"
	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderResponseInvalid Code = "provider.response.invalid_format"
	CodeProviderNotFound        Code = "provider.registry.not_found"

	CodeEngineTurnSuperseded Code = "engine.turn.superseded"
	CodeEngineLaneClosed     Code = "engine.lane.closed"
	CodeEngineTurnFailure    Code = "engine.turn.failure"
	CodeEngineInvalidInput   Code = "engine.turn.invalid_input"
	CodeEngineBudgetExceeded Code = "engine.budget.capacity_exceeded"

	CodeMaintenanceFailure Code = "maintenance.tiering.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"
)

// Class groups codes into the categories callers branch on.
type Class string

const (
	ClassNone        Class = ""
	ClassNotFound    Class = "not_found"
	ClassValidation  Class = "validation"
	ClassCapacity    Class = "capacity_exceeded"
	ClassUnavailable Class = "collaborator_unavailable"
	ClassCorruption  Class = "corruption"
	ClassConflict    Class = "conflict"
	ClassSuperseded  Class = "superseded"
	ClassInternal    Class = "internal"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldSessionID(value string) Attr {
	return Field("session_id", value)
}

func FieldEntityID(value string) Attr {
	return Field("entity_id", value)
}

func FieldKind(value string) Attr {
	return Field("kind", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeEngineTurnFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsCapacityExceeded(err error) bool {
	return reason(CodeOf(err)) == "capacity_exceeded"
}

func IsUnavailable(err error) bool {
	return reason(CodeOf(err)) == "unavailable"
}

func IsCorruption(err error) bool {
	return reason(CodeOf(err)) == "corrupt"
}

func IsSuperseded(err error) bool {
	return reason(CodeOf(err)) == "superseded"
}

// Classify maps err onto the error taxonomy. Errors without a code are
// internal.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case IsNotFound(err):
		return ClassNotFound
	case IsInvalidInput(err):
		return ClassValidation
	case IsCapacityExceeded(err):
		return ClassCapacity
	case IsUnavailable(err):
		return ClassUnavailable
	case IsCorruption(err):
		return ClassCorruption
	case IsConflict(err):
		return ClassConflict
	case IsSuperseded(err):
		return ClassSuperseded
	default:
		return ClassInternal
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
// Only transient collaborator failures qualify; budget and validation errors
// require the caller to change the request.
func Retryable(err error) bool {
	return Classify(err) == ClassUnavailable
}

// Join combines errs. A single non-nil error is returned unchanged so its
// code survives.
func Join(errs ...error) error {
	var only error
	n := 0
	for _, err := range errs {
		if err != nil {
			only = err
			n++
		}
	}
	switch n {
	case 0:
		return nil
	case 1:
		return only
	}
	return oops.Code(CodeEngineTurnFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
