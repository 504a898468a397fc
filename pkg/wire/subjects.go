package wire

import (
	"fmt"
	"strings"
)

// DefaultSubjectPrefix is the first token of every RPC subject.
const DefaultSubjectPrefix = "rpc"

func safeToken(s string) string {
	return strings.ReplaceAll(s, ".", "_")
}

// BuildMethodSubject builds the subject a client sends method calls to.
func BuildMethodSubject(prefix, service, method string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, safeToken(service), safeToken(method))
}

// BuildServiceSubject builds the wildcard subject a server listens on.
func BuildServiceSubject(prefix, service string) string {
	return fmt.Sprintf("%s.%s.*", prefix, safeToken(service))
}

// BuildStatsSubject builds the subject backlog samples are published to.
func BuildStatsSubject(prefix, service string) string {
	return fmt.Sprintf("%s.stats.%s", prefix, safeToken(service))
}
