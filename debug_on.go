//go:build typedbdebug

package typedb

import "fmt"

func unknownMemberKind(module, member, kind string) {
	panic(fmt.Sprintf("typedb: unknown member kind %q for %s.%s", kind, module, member))
}
