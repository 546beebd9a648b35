package app

import "github.com/google/uuid"

// orderNamespace scopes ids derived from task correlation ids.
var orderNamespace = uuid.MustParse("6f1c7f0e-4f5a-4d36-9a43-0c1c8f0f2a51")

// generateID produces a random order identifier.
func generateID() string {
	return uuid.NewString()
}

// DeriveOrderID returns the order id for a creation request identified by key.
// The same key always yields the same id, so a redelivered creation task
// finds the order it already inserted instead of creating a second one.
func DeriveOrderID(key string) string {
	return uuid.NewSHA1(orderNamespace, []byte(key)).String()
}
