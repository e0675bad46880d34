// Package testutil holds helpers shared by package tests.
package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// Replay returns a transport that replays testdata/fixtures/<name>.yaml.
// Set VCR_MODE=record to record through the real network instead.
// The recorder is stopped when the test ends.
func Replay(t *testing.T, name string) http.RoundTripper {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv("VCR_MODE") == "record" {
		mode = recorder.ModeRecording
	}

	r, err := recorder.NewAsMode(filepath.Join("testdata", "fixtures", name), mode, nil)
	if err != nil {
		t.Fatalf("failed to open cassette %s: %v", name, err)
	}

	// Interactions are keyed by method and full URL; bodies are ignored.
	r.SetMatcher(func(req *http.Request, i cassette.Request) bool {
		return req.Method == i.Method && req.URL.String() == i.URL
	})

	// Recorded secrets never reach the cassette.
	r.AddFilter(func(i *cassette.Interaction) error {
		delete(i.Request.Headers, "Authorization")
		delete(i.Request.Headers, "X-Api-Key")
		return nil
	})

	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("failed to stop recorder: %v", err)
		}
	})
	return r
}
