package lib

import "strings"

// VerifyDelimiter converts a mailbox name from one hierarchy delimiter to another,
// escaping any occurrence of the new delimiter already present in the name
func VerifyDelimiter(name, existingDelimiter, expectedDelimiter string) string {
	if existingDelimiter == expectedDelimiter {
		return name
	}
	name = strings.ReplaceAll(name, expectedDelimiter, "\\"+expectedDelimiter)
	// TODO: verify we're not replacing \existingDelimiter (escaped delimiter)
	name = strings.ReplaceAll(name, existingDelimiter, expectedDelimiter)
	return name
}

// JoinPath builds a mailbox name from its path segments
func JoinPath(path []string, delimiter string) string {
	if delimiter == "" {
		delimiter = "/"
	}
	escaped := make([]string, len(path))
	for i, segment := range path {
		escaped[i] = strings.ReplaceAll(segment, delimiter, "\\"+delimiter)
	}
	return strings.Join(escaped, delimiter)
}
