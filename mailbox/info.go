package mailbox

type Info struct {
	// The server's path separator.
	Delimiter string
	// The mailbox name.
	Name string
	// The mailbox attributes.
	Attributes []string
}
