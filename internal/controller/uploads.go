package controller

import (
	"os"
	"sync"

	"github.com/google/uuid"
)

type upload struct {
	path   string
	testID int
}

// Uploads maps download tokens handed to agents to environment packages
// on local storage.
type Uploads struct {
	mu      sync.RWMutex
	entries map[string]upload
}

// NewUploads returns an empty registry.
func NewUploads() *Uploads {
	return &Uploads{entries: make(map[string]upload)}
}

// Register files path under a new token.
func (u *Uploads) Register(testID int, path string) string {
	token := uuid.New().String()
	u.mu.Lock()
	u.entries[token] = upload{path: path, testID: testID}
	u.mu.Unlock()
	return token
}

// Lookup returns the package path for token.
func (u *Uploads) Lookup(token string) (string, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	e, ok := u.entries[token]
	return e.path, ok
}

// Drop forgets every token of a test and deletes its packages.
func (u *Uploads) Drop(testID int) {
	u.mu.Lock()
	var paths []string
	for token, e := range u.entries {
		if e.testID == testID {
			paths = append(paths, e.path)
			delete(u.entries, token)
		}
	}
	u.mu.Unlock()
	for _, p := range paths {
		os.Remove(p)
	}
}
