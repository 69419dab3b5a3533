// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import "errors"

// Every pipeline stage returns one of these, wrapped with fmt.Errorf
// and a message naming the violated precondition. Match with
// errors.Is.
var (
	ErrLoad            = errors.New("load error")
	ErrAlignment       = errors.New("alignment error")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDegenerateRow   = errors.New("degenerate row")
	ErrSubmission      = errors.New("submission error")
)
