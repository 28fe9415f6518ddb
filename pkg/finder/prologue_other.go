//go:build !amd64

package finder

// DefaultPrologueFinder is nil on targets with no prologue-scanning
// fallback implemented; Composite skips nil sub-finders.
var DefaultPrologueFinder SubFinder
