// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import "github.com/tumorscope/tumorscope"

func main() {
	tumorscope.Main()
}
