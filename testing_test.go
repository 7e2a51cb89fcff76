// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
)

var testSessionCounter uint64

// testSession returns a session name unique to this process and call,
// so parallel test runs never collide in the shm namespace.
func testSession(t *testing.T) string {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	if len(name) > 24 {
		name = name[:24]
	}
	id := atomic.AddUint64(&testSessionCounter, 1)
	return fmt.Sprintf("t%d.%d.%s", os.Getpid(), id, name)
}

// testLabel returns a distinct label for the i-th test object.
func testLabel(i int) string {
	return fmt.Sprintf("obj-%04d", i)
}

// openTestSession opens a producer session and arranges its teardown.
func openTestSession(t *testing.T, cfg Config) *Context {
	t.Helper()
	ctx, err := OpenSession(testSession(t), cfg)
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	t.Cleanup(func() { ctx.Close() })
	return ctx
}

// connectTestObserver attaches an observer to the producer's session
// and arranges its teardown.
func connectTestObserver(t *testing.T, ctx *Context) *Observer {
	t.Helper()
	obs, err := NewObserver(ctx.SessionName())
	if err != nil {
		t.Fatalf("failed to create observer: %v", err)
	}
	if err = obs.Connect(); err != nil {
		t.Fatalf("failed to connect observer: %v", err)
	}
	t.Cleanup(func() { obs.Disconnect() })
	return obs
}
