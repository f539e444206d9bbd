// Package validators supplements model.Command's required-field check
// with stricter structural validation of identifier fields,
// the way the teacher's email/string validators layer govalidator rules
// on top of a plain emptiness check.
package validators

import (
	"fmt"

	"github.com/asaskevich/govalidator"

	"github.com/nexusid/eventstore/pkg/model"
)

// maxIdentifierLength bounds identifier columns to a sane size; the
// relational schema stores them as unbounded text, but
// runaway identifiers are almost always a caller bug.
const maxIdentifierLength = 1024

// ValidateIdentifiers performs the stricter, govalidator-backed pass over
// a Command's identifier fields: printable, not all-whitespace, and
// bounded in length. It is layered on top of (not a replacement for)
// model.Command.Validate, which only checks emptiness.
func ValidateIdentifiers(cmd model.Command) error {
	fields := []struct {
		name  string
		value string
	}{
		{"instance_id", cmd.InstanceID},
		{"aggregate_type", cmd.AggregateType},
		{"aggregate_id", cmd.AggregateID},
		{"event_type", cmd.EventType},
		{"creator", cmd.Creator},
		{"owner", cmd.Owner},
	}

	for _, f := range fields {
		if f.value == "" {
			continue // model.Command.Validate already rejects this
		}
		if len(f.value) > maxIdentifierLength {
			return model.NewInvalidArgument("%s exceeds %d characters", f.name, maxIdentifierLength)
		}
		if govalidator.HasWhitespaceOnly(f.value) {
			return model.NewInvalidArgument("%s must not be blank", f.name)
		}
		if !govalidator.IsPrintableASCII(f.value) {
			return model.NewInvalidArgument("%s must be printable ASCII", f.name)
		}
	}

	for _, c := range cmd.UniqueConstraints {
		if c.UniqueType == "" || c.UniqueField == "" {
			return model.NewInvalidArgument("unique constraint requires unique_type and unique_field")
		}
		switch c.Action {
		case model.ConstraintAdd, model.ConstraintRemove:
		default:
			return model.NewInvalidArgument("unique constraint %q has unknown action %q", c.UniqueType, c.Action)
		}
	}

	return nil
}

// ValidateCommand runs both the required-field check and the identifier
// validation pass, returning the first failure.
func ValidateCommand(cmd model.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if err := ValidateIdentifiers(cmd); err != nil {
		return err
	}
	return nil
}

// ValidateBatch validates every command in a PushMany batch and enforces
// the configured maximum batch size.
func ValidateBatch(cmds []model.Command, maxBatchSize int) error {
	if len(cmds) == 0 {
		return model.NewInvalidArgument("command batch must not be empty")
	}
	if maxBatchSize > 0 && len(cmds) > maxBatchSize {
		return model.NewInvalidArgument("batch of %d exceeds max_push_batch_size %d", len(cmds), maxBatchSize)
	}
	for i, cmd := range cmds {
		if err := ValidateCommand(cmd); err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
	}
	return nil
}
