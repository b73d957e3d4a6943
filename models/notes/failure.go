// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package notes

import (
	"errors"
	"fmt"
)

// Code is the closed set of process exit codes. Every failure marker carries
// exactly one of these, and the daemon's previous-failure gate keys on them.
type Code int

const (
	CodeHelp                    Code = 1
	CodePreviousExecutionFailed Code = 238
	CodeMissingLibrary          Code = 241
	CodeInvalidArgument         Code = 242
	CodeLoggerMissing           Code = 243
	CodeDownloadIDsFailed       Code = 244
	CodeNoWatermark             Code = 245
	CodePlanetProcessRunning    Code = 246
	CodePlanetDumpFailed        Code = 248
	CodeBoundaryDownloadFailed  Code = 249
	CodeDataValidation          Code = 250
	CodeInternetIssue           Code = 251
	CodeGeneral                 Code = 255
)

// String implements the Stringer interface.
func (c Code) String() string {
	switch c {
	case CodeHelp:
		return "help_shown"
	case CodePreviousExecutionFailed:
		return "previous_execution_failed"
	case CodeMissingLibrary:
		return "missing_library_or_command"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeLoggerMissing:
		return "logger_missing"
	case CodeDownloadIDsFailed:
		return "download_ids_failed"
	case CodeNoWatermark:
		return "no_watermark"
	case CodePlanetProcessRunning:
		return "planet_process_running"
	case CodePlanetDumpFailed:
		return "planet_dump_execution_failed"
	case CodeBoundaryDownloadFailed:
		return "boundary_download_failed"
	case CodeDataValidation:
		return "data_validation"
	case CodeInternetIssue:
		return "internet_issue"
	case CodeGeneral:
		return "general"
	default:
		return fmt.Sprintf("invalid code %d", int(c))
	}
}

// Retryable returns true when the daemon may retry the failed work on a
// subsequent cycle without operator intervention.
func (c Code) Retryable() bool {
	switch c {
	case CodeDownloadIDsFailed,
		CodePlanetProcessRunning,
		CodePlanetDumpFailed,
		CodeBoundaryDownloadFailed,
		CodeInternetIssue:
		return true
	default:
		return false
	}
}

// Failure is the typed result propagated from any component to the top-level
// handler, which maps it to an exit code and a failure marker.
type Failure struct {
	Code           Code
	Message        string
	RequiredAction string
	Err            error
}

// NewFailure wraps an underlying error with a taxonomy code and a message for
// the failure marker.
func NewFailure(code Code, err error, format string, args ...interface{}) Failure {
	f := Failure{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
	return f
}

// WithAction attaches the suggested operator action recorded in the marker.
func (f Failure) WithAction(action string) Failure {
	f.RequiredAction = action
	return f
}

// Error implements the error interface.
func (f Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s", f.Message, f.Err)
	}
	return f.Message
}

// Unwrap exposes the underlying error to errors.Is/As.
func (f Failure) Unwrap() error {
	return f.Err
}

// CodeOf extracts the taxonomy code from an error chain, defaulting to the
// general code for unclassified errors.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var failure Failure
	if errors.As(err, &failure) {
		return failure.Code
	}
	return CodeGeneral
}
