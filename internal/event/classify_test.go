package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDelta(t *testing.T) {
	deltas := map[Type]bool{
		TypeTextDelta:    true,
		TypeThoughtDelta: true,
		TypeActDelta:     true,
	}
	for _, typ := range Types {
		assert.Equal(t, deltas[typ], IsDelta(typ), "IsDelta(%s)", typ)
	}
}

func TestIsTerminal(t *testing.T) {
	terminals := map[Type]bool{
		TypeAgentCompleted: true,
		TypeError:          true,
		TypeCancelled:      true,
	}
	for _, typ := range Types {
		assert.Equal(t, terminals[typ], IsTerminal(typ), "IsTerminal(%s)", typ)
	}
}

func TestRequiresHumanInput(t *testing.T) {
	asks := map[Type]bool{
		TypeClarificationAsked: true,
		TypeDecisionAsked:      true,
		TypeEnvVarRequested:    true,
		TypePermissionAsked:    true,
	}
	for _, typ := range Types {
		assert.Equal(t, asks[typ], RequiresHumanInput(typ), "RequiresHumanInput(%s)", typ)
	}
}

func TestEveryTypeHasACategory(t *testing.T) {
	for _, typ := range Types {
		assert.NotEqual(t, CategoryUnknown, Categorize(typ), "Categorize(%s)", typ)
	}
	assert.Equal(t, CategoryUnknown, Categorize(Type("bogus")))
}

func TestAdvisoryFlags(t *testing.T) {
	assert.True(t, IsSaveTrigger(TypeAssistantMessage))
	assert.True(t, IsSaveTrigger(TypeObserve))
	assert.False(t, IsSaveTrigger(TypeTextDelta), "deltas never trigger saves")
	assert.False(t, IsSaveTrigger(TypeHeartbeat))

	assert.True(t, IsCostRelevant(TypeCostUpdated))
	assert.True(t, IsCostRelevant(TypeUsageUpdated))
	assert.False(t, IsCostRelevant(TypeUserMessage))
}

func TestDeltasAreNeverTerminal(t *testing.T) {
	for _, typ := range Types {
		if IsDelta(typ) {
			assert.False(t, IsTerminal(typ), "%s cannot be both delta and terminal", typ)
			assert.False(t, RequiresHumanInput(typ))
		}
	}
}
