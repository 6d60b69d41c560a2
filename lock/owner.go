package lock

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// newOwnerID picks the per-process owner identifier for config.
func newOwnerID(config Config) string {
	switch config.OwnerStrategy {
	case OwnerCustom:
		return strings.TrimSpace(config.OwnerID)
	case OwnerHost:
		host, err := os.Hostname()
		if err == nil && host != "" {
			return host
		}
		config.Logger.V(1).Info("lock: hostname unavailable, using random owner id", "error", err)
	}
	return randomToken()
}

// newValue builds a fresh lock value: owner, random component and creation
// time joined by colons.
func newValue(owner string) string {
	var sb strings.Builder
	sb.WriteString(owner)
	sb.WriteByte(':')
	sb.WriteString(randomToken())
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatInt(time.Now().UnixNano(), 10))
	return sb.String()
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
