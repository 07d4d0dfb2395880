//go:build !typedbdebug

package typedb

// unknownMemberKind is a no-op in release builds; the resolver skips the
// entry. Build with -tags typedbdebug to fail loudly instead.
func unknownMemberKind(module, member, kind string) {}
