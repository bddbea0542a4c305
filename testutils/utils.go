//go:build !release

// Package testutils holds helpers shared by the package tests.
package testutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	waitTimeout  = 10 * time.Second
	pollInterval = time.Millisecond
)

// Condition reports whether the awaited state has been reached. An error stops the wait.
type Condition func() (bool, error)

// WaitUntil polls cond until it holds, failing the test on error or after ten seconds.
func WaitUntil(t testing.TB, cond Condition) {
	t.Helper()
	ok, err := poll(cond, waitTimeout, pollInterval)
	require.NoError(t, err)
	require.True(t, ok, "condition not met within %s", waitTimeout)
}

func poll(cond Condition, timeout, interval time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond()
		if err != nil || ok {
			return ok, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(interval)
	}
}
