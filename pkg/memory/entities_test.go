package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidEntity(t *testing.T) {
	reg := NewEntityRegistry([]string{"Kevin"}, []string{"Melissa"})

	cases := []struct {
		entity string
		want   bool
	}{
		{"Kevin", true},
		{"kevin", true},
		{"MELISSA", true},
		{"config", true},
		{"Kevin.preferred_language", true},
		{"TradingSystem", true},
		{"MemoryPlugin", true},
		{"Still", false},
		{"Would", false},
		{"unknownword", false},
		{"X", false},
		{"123abc", false},
		{"http.example", false},
		{"wwwserver", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, reg.IsValidEntity(tc.entity), "IsValidEntity(%q)", tc.entity)
	}
}

func TestEntityRegistry_MergesAllSources(t *testing.T) {
	reg := NewEntityRegistry([]string{"Kevin"}, []string{"Melissa"})

	for _, name := range []string{"config", "system", "note", "project", "kevin", "melissa"} {
		assert.True(t, reg.Has(name), "registry missing %q", name)
	}
}

func TestEntityRegistry_Add(t *testing.T) {
	reg := NewEntityRegistry(nil, nil)
	before := reg.Size()

	reg.Add("NewThing")
	require.True(t, reg.Has("newthing"), "added entity not found case-insensitively")
	require.Equal(t, before+1, reg.Size())
}

func TestValidateEntityName(t *testing.T) {
	valid := []string{"Kevin", "trading_system", "a1", "User.preferred_language"}
	for _, name := range valid {
		assert.NoError(t, ValidateEntityName(name), "ValidateEntityName(%q)", name)
	}

	invalid := []string{"", "x", "1abc", "has space", "dash-ed", "!bang"}
	for _, name := range invalid {
		assert.Error(t, ValidateEntityName(name), "ValidateEntityName(%q)", name)
	}
}
