// internal/app/system/dberr/dberr.go
//
// Package dberr classifies persistence errors. Only unavailability aborts a
// propagation cycle; every other failure is logged and skipped.
package dberr

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// IsUnavailable reports whether err means the database could not be reached
// or did not answer in time.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	if errors.Is(err, topology.ErrServerSelectionTimeout) || errors.Is(err, topology.ErrTopologyClosed) {
		return true
	}
	var sse topology.ServerSelectionError
	if errors.As(err, &sse) {
		return true
	}
	return errors.Is(err, mongo.ErrClientDisconnected)
}

// IsNotFound reports whether err is the driver's "no documents" result.
func IsNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
