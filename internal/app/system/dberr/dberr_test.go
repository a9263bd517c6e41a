package dberr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"generic", errors.New("boom"), false},
		{"no documents", mongo.ErrNoDocuments, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("load group: %w", context.DeadlineExceeded), true},
		{"server selection timeout", topology.ErrServerSelectionTimeout, true},
		{"server selection error", topology.ServerSelectionError{Wrapped: errors.New("no reachable servers")}, true},
		{"client disconnected", mongo.ErrClientDisconnected, true},
		{"duplicate key", mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnavailable(tt.err); got != tt.want {
				t.Errorf("IsUnavailable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("get order: %w", mongo.ErrNoDocuments)) {
		t.Error("wrapped ErrNoDocuments should be not found")
	}
	if IsNotFound(errors.New("other")) {
		t.Error("generic error should not be not found")
	}
}
