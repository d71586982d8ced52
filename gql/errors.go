// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gql

import "errors"

// Platform error taxonomy. Callers classify failures from platform calls
// with errors.Is against these sentinels.
var (
	// ErrTransient indicates a failure that is expected to clear on retry,
	// such as a network error, a 5xx response, or a rate limit
	ErrTransient = errors.New("transient platform error")

	// ErrSessionExpired indicates the current credential was rejected.
	// The caller should request a fresh credential and retry.
	ErrSessionExpired = errors.New("session expired")

	// ErrAuthentication indicates reauthentication is required and no
	// usable credential can be obtained without user interaction. Fatal.
	ErrAuthentication = errors.New("authentication required")
)
