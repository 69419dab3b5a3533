// Copyright (C) The Tumorscope Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tumorscope

import (
	"sync"
)

// throttle runs functions in goroutines, at most Max at a time, and
// remembers the first error.
type throttle struct {
	Max       int
	wg        sync.WaitGroup
	ch        chan struct{}
	err       error
	setupOnce sync.Once
	errorOnce sync.Once
}

func (t *throttle) Go(f func() error) {
	t.setupOnce.Do(func() {
		if t.Max < 1 {
			t.Max = 1
		}
		t.ch = make(chan struct{}, t.Max)
	})
	t.wg.Add(1)
	t.ch <- struct{}{}
	go func() {
		defer func() {
			<-t.ch
			t.wg.Done()
		}()
		if err := f(); err != nil {
			t.errorOnce.Do(func() { t.err = err })
		}
	}()
}

// Wait waits for all functions to return, and returns the first
// error, if any.
func (t *throttle) Wait() error {
	t.wg.Wait()
	return t.err
}
