package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/cloud-shuttle/fieldsync/internal/convert"
	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	events []*types.InboundEvent
	fail   bool
}

func (f *fakeApplier) Apply(_ context.Context, ev *types.InboundEvent) (types.Ack, error) {
	f.events = append(f.events, ev)
	if f.fail {
		return types.Ack{Action: ev.Action, Success: false}, types.ErrStorageFailure
	}
	return types.Ack{Action: ev.Action, Success: true}, nil
}

func newInterface(applier *fakeApplier) *Interface {
	s := schema.MustNew(schema.DefaultLogic())
	return New(s, convert.New(s), applier, nil, logging.Discard())
}

const update = `<AppointmentUpdate><Engineer>E1</Engineer><Task><ID>A1</ID>` +
	`<Status><Name>Dispatched</Name></Status><Start>2012-09-01T09:00:00</Start></Task></AppointmentUpdate>`

func TestHandleConvertsToStorage(t *testing.T) {
	applier := &fakeApplier{}
	i := newInterface(applier)

	ack, err := i.Handle(context.Background(), []byte(update))
	require.NoError(t, err)
	assert.Equal(t, `<AppointmentUpdateResult Status="1" />`, string(ack))

	require.Len(t, applier.events, 1)
	ev := applier.events[0]
	assert.Equal(t, types.ActionUpdate, ev.Action)
	assert.Equal(t, time.Date(2012, 9, 1, 9, 0, 0, 0, time.UTC).UnixMilli(), ev.Properties["Start"])
	assert.Equal(t, "Dispatched", ev.Properties["Status"])
}

func TestHandleReportsApplyFailure(t *testing.T) {
	i := newInterface(&fakeApplier{fail: true})

	ack, err := i.Handle(context.Background(), []byte(update))
	require.NoError(t, err)
	assert.Equal(t, `<AppointmentUpdateResult Status="2" />`, string(ack))
}

func TestHandleReportsConversionFailure(t *testing.T) {
	applier := &fakeApplier{}
	i := newInterface(applier)

	body := `<AppointmentCreate><Engineer>E1</Engineer><Task><ID>A1</ID><Start>yesterday</Start></Task></AppointmentCreate>`
	ack, err := i.Handle(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, `<AppointmentCreateResult Status="2" />`, string(ack))
	assert.Empty(t, applier.events)
}

func TestHandleRejectsMalformed(t *testing.T) {
	i := newInterface(&fakeApplier{})

	_, err := i.Handle(context.Background(), []byte(`<Hello/>`))
	require.Error(t, err)
	assert.True(t, IsMalformed(err))

	_, err = i.Handle(context.Background(), []byte(`<AppointmentCreate><Task/></AppointmentCreate>`))
	assert.True(t, IsMalformed(err))
}
