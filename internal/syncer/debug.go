package syncer

import (
	"log"
	"os"
	"strings"
	"time"
)

var syncDebugEnabled = strings.EqualFold(os.Getenv("CHATSYNC_SYNC_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if syncDebugEnabled {
		log.Printf(format, args...)
	}
}

// timeAfter is swapped in tests to avoid real backoff sleeps.
var timeAfter = time.After
