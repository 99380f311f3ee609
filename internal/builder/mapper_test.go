package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityMapperPassesThrough(t *testing.T) {
	var m Mapper = IdentityMapper{}
	assert.Equal(t, "abc", m.Map("abc"))
}

func TestIDMapLoadsOnceAndFallsBackToIdentity(t *testing.T) {
	calls := 0
	idmap := NewIDMap(func() (map[string]string, error) {
		calls++
		return map[string]string{"old-1": "new-1"}, nil
	})

	assert.Equal(t, "new-1", idmap.Map("old-1"))
	assert.Equal(t, "unmapped", idmap.Map("unmapped"))
	assert.Equal(t, "new-1", idmap.Map("old-1"))
	assert.Equal(t, 1, calls, "loader must run at most once")
}

func TestIDMapLoaderErrorFallsBackToIdentityForEverything(t *testing.T) {
	idmap := NewIDMap(func() (map[string]string, error) {
		return nil, assertErr
	})
	require.Equal(t, "abc", idmap.Map("abc"))
}

var assertErr = &sentinelErr{"boom"}

type sentinelErr struct{ msg string }

func (e *sentinelErr) Error() string { return e.msg }
