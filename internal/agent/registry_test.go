package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() TypeSpec {
	return TypeSpec{
		Type:         "BackupRecoveryAgent",
		ID:           "backup-recovery",
		Description:  "Verifies backups and drives recovery drills",
		Capabilities: []string{"integrity-scan", "host-metrics"},
		SkillBindings: map[string]string{
			"integrity-scan": "codescan",
			"host-metrics":   "sysmetrics",
		},
		CycleInterval: 10 * time.Minute,
		Tags:          []string{"reliability"},
	}
}

func TestRegister_And_Get(t *testing.T) {
	r := NewTypeRegistry()
	require.NoError(t, r.Register(validSpec()))

	spec, ok := r.Get("BackupRecoveryAgent")
	require.True(t, ok)
	assert.Equal(t, "backup-recovery", spec.ID)
	assert.Equal(t, 1, r.Len())

	// Returned spec is a copy; mutating it must not poison the registry.
	spec.ID = "mutated"
	again, _ := r.Get("BackupRecoveryAgent")
	assert.Equal(t, "backup-recovery", again.ID)
}

func TestRegister_Validation(t *testing.T) {
	r := NewTypeRegistry()

	t.Run("duplicate type", func(t *testing.T) {
		require.NoError(t, r.Register(validSpec()))
		assert.Error(t, r.Register(validSpec()))
	})

	t.Run("empty type", func(t *testing.T) {
		spec := validSpec()
		spec.Type = ""
		assert.Error(t, r.Register(spec))
	})

	t.Run("unbound capability", func(t *testing.T) {
		spec := validSpec()
		spec.Type = "Unbound"
		spec.ID = "unbound"
		spec.Capabilities = append(spec.Capabilities, "levitation")
		assert.Error(t, r.Register(spec))
	})
}

func TestIndexes(t *testing.T) {
	r := NewTypeRegistry()
	require.NoError(t, r.Register(validSpec()))

	second := validSpec()
	second.Type = "BugPredictorAgent"
	second.ID = "bug-predictor"
	second.Capabilities = []string{"integrity-scan"}
	second.SkillBindings = map[string]string{"integrity-scan": "codescan"}
	second.Tags = []string{"quality"}
	require.NoError(t, r.Register(second))

	assert.Equal(t, []string{"BackupRecoveryAgent", "BugPredictorAgent"},
		r.FindByCapability("integrity-scan"))
	assert.Equal(t, []string{"BackupRecoveryAgent"}, r.FindByTag("reliability"))
	assert.Nil(t, r.FindByTag("nonexistent"))

	all := r.List()
	require.Len(t, all, 2)
	assert.Equal(t, "BackupRecoveryAgent", all[0].Type)
}
