// Package apperrors defines the error taxonomy shared across the engine.
//
// Framing errors (BadInput, UnsupportedEndpoint, ConnectionFailed) abort a
// request. Everything else is captured per plan step and the pipeline
// continues.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrBadInput            = errors.New("BadInput")
	ErrUnsupportedEndpoint = errors.New("UnsupportedEndpoint")
	ErrSchemaBuild         = errors.New("SchemaBuildFailed")
	ErrPlanParse           = errors.New("PlanParseFailed")
	ErrTimeout             = errors.New("Timeout")
	ErrSessionNotFound     = errors.New("SessionNotFound")
	ErrUnauthorized        = errors.New("Unauthorized")
)

// Safety rule codes carried by SafetyRejectedError.
const (
	RuleMultipleStatements  = "MULTIPLE_STATEMENTS"
	RuleForbiddenVerb       = "FORBIDDEN_VERB"
	RuleSQLComment          = "SQL_COMMENT"
	RuleDeleteWithoutWhere  = "DELETE_WITHOUT_WHERE"
	RuleUpdateWithoutWhere  = "UPDATE_WITHOUT_WHERE"
	RuleParamCountMismatch  = "PARAM_COUNT_MISMATCH"
	RuleDangerousOperator   = "DANGEROUS_OPERATOR"
	RuleWriteStage          = "WRITE_STAGE"
	RuleEmptyWriteFilter    = "EMPTY_WRITE_FILTER"
	RuleBulkWrite           = "BULK_WRITE"
	RuleSensitiveProjection = "SENSITIVE_PROJECTION"
	RuleInjectionDetected   = "INJECTION_DETECTED"
	RuleUnknownOperation    = "UNKNOWN_OPERATION"
)

// SafetyRejectedError reports a query that violated a safety gate rule.
// The step fails with this error and the plan continues.
type SafetyRejectedError struct {
	Rule   string
	Detail string
}

func (e *SafetyRejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("SafetyRejected(%s)", e.Rule)
	}
	return fmt.Sprintf("SafetyRejected(%s): %s", e.Rule, e.Detail)
}

// SafetyRejected builds a SafetyRejectedError for the given rule.
func SafetyRejected(rule, detail string) error {
	return &SafetyRejectedError{Rule: rule, Detail: detail}
}

// IsSafetyRejected reports whether err is a safety gate rejection, returning
// the violated rule code when it is.
func IsSafetyRejected(err error) (string, bool) {
	var sre *SafetyRejectedError
	if errors.As(err, &sre) {
		return sre.Rule, true
	}
	return "", false
}

// ConnectionFailedError reports a preflight or connect failure for a
// user-supplied database endpoint. Reason holds the sanitized driver message.
type ConnectionFailedError struct {
	Reason string
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("ConnectionFailed: %s", e.Reason)
}

// ConnectionFailed wraps a sanitized driver message.
func ConnectionFailed(reason string) error {
	return &ConnectionFailedError{Reason: reason}
}

// DBError reports that the target database rejected a gated query
// (syntax error, unknown table, constraint violation).
type DBError struct {
	Driver string
}

func (e *DBError) Error() string {
	return fmt.Sprintf("DbError: %s", e.Driver)
}

// IsFraming reports whether err should abort the whole request rather than
// a single plan step.
func IsFraming(err error) bool {
	var cf *ConnectionFailedError
	return errors.Is(err, ErrBadInput) ||
		errors.Is(err, ErrUnsupportedEndpoint) ||
		errors.As(err, &cf)
}
