//go:build !typedbdebug

package typedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_UnknownKindIsSkipped(t *testing.T) {
	t.Parallel()
	db := newTestDB(t, "3.7", map[string]string{
		"builtins": builtins3x,
		"m":        "members:\n  odd: {kind: hologram, value: {}}\n  ok: {kind: function, value: {}}\n",
	})
	m := db.GetModule("m")
	require.NotNil(t, m)
	assert.Nil(t, m.Member("odd"))
	assert.NotNil(t, m.Member("ok"))
	assert.False(t, db.IsCorrupt())
}
