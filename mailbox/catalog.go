package mailbox

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/creativeprojects/gbackup/lib"
)

// Mailbox attributes (RFC 3501 and RFC 6154)
const (
	NoSelectAttr    = "\\Noselect"
	NonExistentAttr = "\\NonExistent"

	AllAttr     = "\\All"
	ArchiveAttr = "\\Archive"
	DraftsAttr  = "\\Drafts"
	FlaggedAttr = "\\Flagged"
	JunkAttr    = "\\Junk"
	SentAttr    = "\\Sent"
	TrashAttr   = "\\Trash"
)

var specialUseAttributes = []string{AllAttr, ArchiveAttr, DraftsAttr, FlaggedAttr, JunkAttr, SentAttr, TrashAttr}

// ErrStopWalk can be returned by a WalkFunc to stop the traversal without error
var ErrStopWalk = errors.New("stop walking")

// Mailbox is a node of the server hierarchy
type Mailbox struct {
	// Name as known by the server
	Name string
	// Delimiter of the hierarchy
	Delimiter string
	// Path segments from the root of the hierarchy
	Path []string
	// Selectable is false for pure containers
	Selectable bool
	// SpecialUse attribute, if any
	SpecialUse string
	Children   []*Mailbox
}

// String returns the path of the mailbox, using "/" as a separator
func (m *Mailbox) String() string {
	return strings.Join(m.Path, "/")
}

// WalkFunc is called for each mailbox of the catalog
type WalkFunc func(mbox *Mailbox) error

// Catalog is the typed mailbox tree of an account
type Catalog struct {
	roots []*Mailbox
}

// NewCatalog builds the mailbox tree from the flat list returned by the server.
// Parents not reported by the server are added as non-selectable nodes.
func NewCatalog(list []Info) (*Catalog, error) {
	catalog := &Catalog{}
	nodes := make(map[string]*Mailbox, len(list))

	for _, info := range list {
		path, err := SplitPath(info.Name, info.Delimiter)
		if err != nil {
			return nil, err
		}
		var parent *Mailbox
		for depth := 1; depth <= len(path); depth++ {
			key := strings.Join(path[:depth], "\x00")
			node, found := nodes[key]
			if !found {
				node = &Mailbox{
					Name:      lib.JoinPath(path[:depth], info.Delimiter),
					Delimiter: info.Delimiter,
					Path:      append([]string(nil), path[:depth]...),
				}
				nodes[key] = node
				if parent == nil {
					catalog.roots = append(catalog.roots, node)
				} else {
					parent.Children = append(parent.Children, node)
				}
			}
			parent = node
		}
		// parent is now the listed mailbox itself
		parent.Name = info.Name
		parent.Selectable = isSelectable(info.Attributes)
		parent.SpecialUse = specialUse(info.Attributes)
	}
	sortMailboxes(catalog.roots)
	return catalog, nil
}

// Roots returns the top level mailboxes
func (c *Catalog) Roots() []*Mailbox {
	return c.roots
}

// Walk visits all the mailboxes depth-first. It can be called any number of times.
func (c *Catalog) Walk(fn WalkFunc) error {
	err := walk(c.roots, fn)
	if errors.Is(err, ErrStopWalk) {
		return nil
	}
	return err
}

// Selectable returns the flattened list of mailboxes that can be opened
func (c *Catalog) Selectable() []*Mailbox {
	list := make([]*Mailbox, 0)
	_ = c.Walk(func(mbox *Mailbox) error {
		if mbox.Selectable {
			list = append(list, mbox)
		}
		return nil
	})
	return list
}

// Find returns the mailbox at this path, or nil
func (c *Catalog) Find(path ...string) *Mailbox {
	var found *Mailbox
	_ = c.Walk(func(mbox *Mailbox) error {
		if equalPath(mbox.Path, path) {
			found = mbox
			return ErrStopWalk
		}
		return nil
	})
	return found
}

// SplitPath cuts a mailbox name into its path segments
func SplitPath(name, delimiter string) ([]string, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty mailbox name", lib.ErrInvalidName)
	}
	if delimiter == "" {
		return []string{name}, nil
	}
	path := strings.Split(name, delimiter)
	for _, segment := range path {
		if segment == "" {
			return nil, fmt.Errorf("%w: empty segment in mailbox name %q", lib.ErrInvalidName, name)
		}
	}
	return path, nil
}

func walk(mailboxes []*Mailbox, fn WalkFunc) error {
	for _, mbox := range mailboxes {
		if err := fn(mbox); err != nil {
			return err
		}
		if err := walk(mbox.Children, fn); err != nil {
			return err
		}
	}
	return nil
}

func sortMailboxes(mailboxes []*Mailbox) {
	sort.SliceStable(mailboxes, func(i, j int) bool {
		return mailboxes[i].Path[len(mailboxes[i].Path)-1] < mailboxes[j].Path[len(mailboxes[j].Path)-1]
	})
	for _, mbox := range mailboxes {
		sortMailboxes(mbox.Children)
	}
}

func isSelectable(attributes []string) bool {
	for _, attribute := range attributes {
		if strings.EqualFold(attribute, NoSelectAttr) || strings.EqualFold(attribute, NonExistentAttr) {
			return false
		}
	}
	return true
}

func specialUse(attributes []string) string {
	for _, attribute := range attributes {
		for _, special := range specialUseAttributes {
			if strings.EqualFold(attribute, special) {
				return special
			}
		}
	}
	return ""
}

func equalPath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
