package job

import (
	"fmt"
	"hash/fnv"
)

// Executor keys. Every mutation of a component's state runs under its key.
const (
	KeyDirectory = "directory"
	KeyLogSync   = "logsync"
	KeySender    = "sender"
)

// ConversationLabel hashes a conversation id to a small, stable metric label (0-31).
func ConversationLabel(conversationID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return fmt.Sprintf("%d", h.Sum32()%32)
}
