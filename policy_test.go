package bulkfetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_bitValues(t *testing.T) {
	assert.Equal(t, Policy(0), None)
	assert.Equal(t, Policy(1), Retry)
	assert.Equal(t, Policy(2), Asap)
	assert.Equal(t, Policy(4), Wait)
	assert.Equal(t, Policy(8), Refresh)
	assert.Equal(t, Policy(16), Daemon)
	assert.Equal(t, Policy(32), Unique)
	assert.Equal(t, Policy(64), Partial)
	assert.Equal(t, Policy(128), NoReplace)
}

func TestPolicy_Has(t *testing.T) {
	p := Retry | Asap
	assert.True(t, p.Has(Retry))
	assert.True(t, p.Has(Asap))
	assert.True(t, p.Has(Retry|Asap))
	assert.True(t, p.Has(None))
	assert.False(t, p.Has(Wait))
	assert.False(t, p.Has(Retry|Wait))
}

func TestPolicy_String(t *testing.T) {
	for _, tc := range [...]struct {
		policy Policy
		want   string
	}{
		{None, `none`},
		{Retry, `retry`},
		{Asap | Partial, `asap|partial`},
		{Retry | Wait | NoReplace, `retry|wait|noreplace`},
	} {
		assert.Equal(t, tc.want, tc.policy.String())
	}
}
