package notify_test

import (
	"strings"
	"time"
)

func contains(s, sub string) bool { return strings.Contains(s, sub) }

func nowPlus() time.Time { return time.Now().UTC().Add(time.Second) }
