package hosts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandHostlist(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected []string
	}{
		{"single", "c401-001", []string{"c401-001"}},
		{"plain list", "a,b", []string{"a", "b"}},
		{"padded range", "c401-[008-011]", []string{"c401-008", "c401-009", "c401-010", "c401-011"}},
		{"mixed", "c401-[001-002,007],c402-010", []string{"c401-001", "c401-002", "c401-007", "c402-010"}},
		{"cartesian", "r[1-2]n[1-2]", []string{"r1n1", "r1n2", "r2n1", "r2n2"}},
		{"suffix", "nid[3-4].ls", []string{"nid3.ls", "nid4.ls"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hosts, err := ExpandHostlist(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, hosts)
		})
	}
}

func TestExpandHostlistErrors(t *testing.T) {
	for _, in := range []string{"c[1-2", "c1-2]", "c[[1]]", "c[a-b]", "c[5-3]"} {
		_, err := ExpandHostlist(in)
		assert.Error(t, err, in)
	}
}
