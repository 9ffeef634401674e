package sxp

import (
	"strings"
	"testing"

	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const createMessage = `<?xml version="1.0" encoding="UTF-8"?>
<AppointmentCreate>
  <Engineer>E1</Engineer>
  <Task>
    <ID>A1</ID>
    <Status><Name>Dispatched</Name></Status>
    <Start>2012-09-01T09:00:00</Start>
    <Finish>2012-09-01T10:00:00</Finish>
    <Customer>Parker, Peter</Customer>
    <Ignored>x</Ignored>
  </Task>
</AppointmentCreate>`

func TestParse(t *testing.T) {
	s := schema.MustNew(schema.DefaultLogic())

	ev, err := Parse([]byte(createMessage), s)
	require.NoError(t, err)
	assert.Equal(t, types.ActionCreate, ev.Action)
	assert.Equal(t, "E1", ev.AssignedTo)
	assert.Equal(t, map[string]any{
		"ID":       "A1",
		"Status":   "Dispatched",
		"Start":    "2012-09-01T09:00:00",
		"Finish":   "2012-09-01T10:00:00",
		"Customer": "Parker, Peter",
	}, ev.Properties)
}

func TestParseDelete(t *testing.T) {
	s := schema.MustNew(schema.DefaultLogic())

	ev, err := Parse([]byte(`<AppointmentDelete><Engineer>E2</Engineer><Task><ID>A9</ID></Task></AppointmentDelete>`), s)
	require.NoError(t, err)
	assert.Equal(t, types.ActionDelete, ev.Action)
	assert.Equal(t, "E2", ev.AssignedTo)
	assert.Equal(t, map[string]any{"ID": "A9"}, ev.Properties)
}

func TestParseErrors(t *testing.T) {
	s := schema.MustNew(schema.DefaultLogic())

	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"not xml", "hello", ErrMalformed},
		{"unknown root", "<AppointmentMerge><Engineer>E1</Engineer></AppointmentMerge>", ErrUnknownMessage},
		{"missing engineer", "<AppointmentUpdate><Task><ID>A1</ID></Task></AppointmentUpdate>", ErrNoEngineer},
		{"empty engineer", "<AppointmentUpdate><Engineer> </Engineer></AppointmentUpdate>", ErrNoEngineer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body), s)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAck(t *testing.T) {
	assert.Equal(t, `<AppointmentCreateResult Status="1" />`, string(Ack(types.ActionCreate, true)))
	assert.Equal(t, `<AppointmentUpdateResult Status="2" />`, string(Ack(types.ActionUpdate, false)))
	assert.Equal(t, `<AppointmentDeleteResult Status="1" />`, string(Ack(types.ActionDelete, true)))
}

func TestEncodeUpdate(t *testing.T) {
	s := schema.MustNew(schema.DefaultLogic())
	msg := &types.OutboundMessage{
		TaskID:     "A1",
		EngineerID: "E1",
		Fields: []types.WireField{
			{Object: schema.ObjectTask, Name: "ID", Value: "A1"},
			{Object: schema.ObjectTask, Name: "Status", Value: "Working"},
			{Object: schema.ObjectTask, Name: "Comment", Value: "a < b"},
		},
	}

	out, err := EncodeUpdate(msg, s)
	require.NoError(t, err)
	body := string(out)
	assert.True(t, strings.HasPrefix(body, "<AppointmentUpdate><Engineer>E1</Engineer><Task>"))
	assert.Contains(t, body, "<Status><Name>Working</Name></Status>")
	assert.Contains(t, body, "<Comment>a &lt; b</Comment>")

	// The encoded update parses back into the same properties.
	ev, err := Parse(out, s)
	require.NoError(t, err)
	assert.Equal(t, types.ActionUpdate, ev.Action)
	assert.Equal(t, "Working", ev.Properties["Status"])
	assert.Equal(t, "a < b", ev.Properties["Comment"])
}
