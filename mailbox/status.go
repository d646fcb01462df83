package mailbox

type Status struct {
	// The mailbox name.
	Name string

	// The number of messages in this mailbox.
	Messages uint32
	// The next unique identifier value (0 when the server didn't send it).
	UidNext uint32
	// Together with a UID, it is a unique identifier for a message.
	// Must be greater than or equal to 1.
	UidValidity uint32
	// The highest UID in the mailbox when it was opened.
	NewestUID uint32
}
