package validators_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusid/eventstore/pkg/model"
	"github.com/nexusid/eventstore/pkg/validators"
)

func validCmd() model.Command {
	return model.Command{
		InstanceID:    "tenant-1",
		AggregateType: "cart",
		AggregateID:   "c1",
		EventType:     "ItemAdded",
		Creator:       "tester",
		Owner:         "tester",
	}
}

func TestValidateIdentifiersAcceptsAWellFormedCommand(t *testing.T) {
	require.NoError(t, validators.ValidateIdentifiers(validCmd()))
}

func TestValidateIdentifiersRejectsWhitespaceOnlyField(t *testing.T) {
	c := validCmd()
	c.Creator = "   "
	err := validators.ValidateIdentifiers(c)
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))
}

func TestValidateIdentifiersRejectsNonPrintableASCII(t *testing.T) {
	c := validCmd()
	c.Owner = "tester\x00"
	err := validators.ValidateIdentifiers(c)
	require.Error(t, err)
}

func TestValidateIdentifiersRejectsOverlongField(t *testing.T) {
	c := validCmd()
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	c.AggregateID = string(long)
	err := validators.ValidateIdentifiers(c)
	require.Error(t, err)
}

func TestValidateIdentifiersRejectsUnknownConstraintAction(t *testing.T) {
	c := validCmd()
	c.UniqueConstraints = []model.UniqueConstraint{
		{UniqueType: "email", UniqueField: "a@example.com", Action: "bogus"},
	}
	err := validators.ValidateIdentifiers(c)
	require.Error(t, err)
}

func TestValidateIdentifiersRejectsConstraintMissingFields(t *testing.T) {
	c := validCmd()
	c.UniqueConstraints = []model.UniqueConstraint{{Action: model.ConstraintAdd}}
	err := validators.ValidateIdentifiers(c)
	require.Error(t, err)
}

func TestValidateCommandRunsRequiredFieldCheckFirst(t *testing.T) {
	err := validators.ValidateCommand(model.Command{})
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))
}

func TestValidateBatchRejectsEmptyBatch(t *testing.T) {
	err := validators.ValidateBatch(nil, 10)
	require.Error(t, err)
}

func TestValidateBatchRejectsOverMaxSize(t *testing.T) {
	cmds := []model.Command{validCmd(), validCmd(), validCmd()}
	err := validators.ValidateBatch(cmds, 2)
	require.Error(t, err)
}

func TestValidateBatchAcceptsWithinMaxSize(t *testing.T) {
	cmds := []model.Command{validCmd(), validCmd()}
	require.NoError(t, validators.ValidateBatch(cmds, 2))
}

func TestValidateBatchReportsWhichCommandFailed(t *testing.T) {
	cmds := []model.Command{validCmd(), {AggregateType: "cart"}}
	err := validators.ValidateBatch(cmds, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command 1")
}
