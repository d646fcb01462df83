package mem

import (
	"time"
)

type memMessage struct {
	content        []byte
	date           time.Time
	gmailMessageID string
	gmailThreadID  string
}

type memMailbox struct {
	uidValidity uint32
	currentUid  uint32
	messages    map[uint32]*memMessage
	attributes  []string
	// fault injection
	examineErr error
	fetchErr   map[uint32]error
}

func newMailbox(uidValidity uint32, attributes []string) *memMailbox {
	return &memMailbox{
		uidValidity: uidValidity,
		messages:    make(map[uint32]*memMessage),
		attributes:  attributes,
		fetchErr:    make(map[uint32]error),
	}
}

func (m *memMailbox) newMessage(msg *memMessage) uint32 {
	m.currentUid++
	m.messages[m.currentUid] = msg
	return m.currentUid
}

// newestUID is the uid of the last message by sequence number
func (m *memMailbox) newestUID() uint32 {
	var newest uint32
	for uid := range m.messages {
		if uid > newest {
			newest = uid
		}
	}
	return newest
}
