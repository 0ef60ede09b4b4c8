// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package accounter

import "github.com/pkg/errors"

// Sentinel failure kinds, wrapped with context via pkg/errors so callers can
// still recover the kind with errors.Is.
var (
	// ErrNullApp is returned when a booking call names no application.
	ErrNullApp = errors.New("accounter: nil application")
	// ErrEmptyMap is returned when a booking call carries an empty assignment map.
	ErrEmptyMap = errors.New("accounter: empty assignment map")
	// ErrUnknownView is returned when a view token is not currently allocated.
	ErrUnknownView = errors.New("accounter: unknown view")
	// ErrAlreadyBooked is returned when an application already has a booking
	// in the given view (one assignment map per app per view).
	ErrAlreadyBooked = errors.New("accounter: application already booked in this view")
	// ErrExceeded is returned when a booking cannot be satisfied from the
	// resources named in its binding lists.
	ErrExceeded = errors.New("accounter: requested amount exceeds availability")
	// ErrSystemView is returned when a caller tries to release or set a
	// view to/from an operation that the system (live) view is exempt from.
	ErrSystemView = errors.New("accounter: operation not permitted on the system view")
	// ErrNotFound is returned when a path matches no registered resource.
	ErrNotFound = errors.New("accounter: no resource matches the path")
)
