package reconcile_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloud-shuttle/fieldsync/internal/clock"
	"github.com/cloud-shuttle/fieldsync/internal/convert"
	"github.com/cloud-shuttle/fieldsync/internal/db"
	"github.com/cloud-shuttle/fieldsync/internal/events"
	"github.com/cloud-shuttle/fieldsync/internal/lifecycle"
	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/internal/policy"
	"github.com/cloud-shuttle/fieldsync/internal/reconcile"
	"github.com/cloud-shuttle/fieldsync/internal/schedule"
	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/internal/session"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2012, 9, 1, 0, 0, 0, 0, time.UTC)

type recordingForwarder struct {
	mu       sync.Mutex
	messages []*types.OutboundMessage
}

func (f *recordingForwarder) Forward(_ context.Context, msg *types.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *recordingForwarder) all() []*types.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.OutboundMessage(nil), f.messages...)
}

// failingStore rejects every write with a storage failure
type failingStore struct {
	*db.Store
}

func (s failingStore) Insert(context.Context, *types.Task) (int64, error) {
	return 0, types.ErrStorageFailure
}

func (s failingStore) UpdateByID(context.Context, int64, *types.Task) (int64, error) {
	return 0, types.ErrStorageFailure
}

type staticSource map[string][]map[string]any

func (s staticSource) Schedule(_ context.Context, engineerID string, _ int) ([]map[string]any, error) {
	return s[engineerID], nil
}

type harness struct {
	store     *db.Store
	registry  *session.Registry
	hub       *events.Hub
	forwarder *recordingForwarder
	engine    *reconcile.Engine
}

func setup(t *testing.T) *harness {
	return setupWith(t, nil, nil)
}

func setupWith(t *testing.T, wrap func(*db.Store) reconcile.TaskStore, source reconcile.ScheduleSource) *harness {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	var tasks reconcile.TaskStore = store
	if wrap != nil {
		tasks = wrap(store)
	}

	s := schema.MustNew(schema.DefaultLogic())
	diagram := lifecycle.New(s.States())
	pol := policy.New(diagram, s.StatusProperty(), s.Dripfeed())
	conv := convert.New(s)

	days, err := clock.New("")
	require.NoError(t, err)
	days.WithNow(func() time.Time { return today.Add(8 * time.Hour) })

	registry := session.NewRegistry(store)
	hub := events.NewHub()
	t.Cleanup(func() { hub.Close() })
	forwarder := &recordingForwarder{}

	compiler := schedule.NewCompiler(schedule.Deps{
		Store:     tasks,
		Schema:    s,
		Diagram:   diagram,
		Policy:    pol,
		Converter: conv,
		Days:      days,
		Logger:    logging.Discard(),
	})

	engine := reconcile.New(reconcile.Deps{
		Store:     tasks,
		Sessions:  registry,
		Push:      hub,
		Compiler:  compiler,
		Schema:    s,
		Diagram:   diagram,
		Policy:    pol,
		Converter: conv,
		Forwarder: forwarder,
		Source:    source,
		Logger:    logging.Discard(),
	})

	return &harness{store: store, registry: registry, hub: hub, forwarder: forwarder, engine: engine}
}

// online opens an identified session for engineer and subscribes to its pushes
func (h *harness) online(t *testing.T, engineer string) (string, chan *events.Message) {
	t.Helper()
	ctx := context.Background()
	sess, err := h.registry.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, h.registry.Identify(ctx, sess.ID, engineer))
	return sess.ID, h.hub.Subscribe(sess.ID)
}

func taskProps(id, status string, start time.Time) map[string]any {
	return map[string]any{
		"ID":       id,
		"Status":   status,
		"Start":    start.UnixMilli(),
		"Finish":   start.Add(time.Hour).UnixMilli(),
		"Customer": "Parker, Peter",
	}
}

func (h *harness) seed(t *testing.T, engineer, id, status string, start time.Time) {
	t.Helper()
	s := schema.MustNew(schema.DefaultLogic())
	task, err := s.NewTask(engineer, taskProps(id, status, start))
	require.NoError(t, err)
	_, err = h.store.Insert(context.Background(), task)
	require.NoError(t, err)
}

func (h *harness) find(t *testing.T, id string) *types.Task {
	t.Helper()
	task, err := h.store.FindOne(context.Background(), types.TaskFilter{TaskID: id})
	require.NoError(t, err)
	return task
}

func receive(t *testing.T, ch chan *events.Message) *events.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("expected a push message")
		return nil
	}
}

func scheduleTasks(t *testing.T, msg *events.Message) []schedule.TaskView {
	t.Helper()
	require.Equal(t, events.EventSendSchedule, msg.Event)
	payload, ok := msg.Data.(events.SchedulePayload)
	require.True(t, ok)
	tasks, ok := payload.Tasks.([]schedule.TaskView)
	require.True(t, ok)
	return tasks
}

func TestCreateForOfflineEngineerIsNotRetained(t *testing.T) {
	h := setup(t)

	ack, err := h.engine.Apply(context.Background(), &types.InboundEvent{
		Action:     types.ActionCreate,
		AssignedTo: "E1",
		Properties: taskProps("A1", "Dispatched", today.Add(9*time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, types.Ack{Action: types.ActionCreate, Success: true}, ack)
	h.engine.Flush()

	assert.Nil(t, h.find(t, "A1"))
}

func TestCreateForOnlineEngineerPushesSchedule(t *testing.T) {
	h := setup(t)
	_, ch := h.online(t, "E1")

	ack, err := h.engine.Apply(context.Background(), &types.InboundEvent{
		Action:     types.ActionCreate,
		AssignedTo: "E1",
		Properties: taskProps("A1", "Dispatched", today.Add(9*time.Hour)),
	})
	require.NoError(t, err)
	assert.True(t, ack.Success)
	h.engine.Flush()

	stored := h.find(t, "A1")
	require.NotNil(t, stored)
	assert.Equal(t, "E1", stored.AssignedTo)

	tasks := scheduleTasks(t, receive(t, ch))
	require.Len(t, tasks, 1)
	assert.Equal(t, "A1", tasks[0]["ID"].Value)
}

func TestRedeliveredCreateIsAppliedAsUpdate(t *testing.T) {
	h := setup(t)
	_, ch := h.online(t, "E1")
	ctx := context.Background()

	props := taskProps("A1", "Dispatched", today.Add(9*time.Hour))
	ack, err := h.engine.Apply(ctx, &types.InboundEvent{Action: types.ActionCreate, AssignedTo: "E1", Properties: props})
	require.NoError(t, err)
	require.True(t, ack.Success)
	h.engine.Flush()
	receive(t, ch)

	props = taskProps("A1", "Dispatched", today.Add(9*time.Hour))
	props["Customer"] = "Watson, Mary Jane"
	ack, err = h.engine.Apply(ctx, &types.InboundEvent{Action: types.ActionCreate, AssignedTo: "E1", Properties: props})
	require.NoError(t, err)
	assert.Equal(t, types.Ack{Action: types.ActionCreate, Success: true}, ack)
	h.engine.Flush()

	all, err := h.store.Find(ctx, types.TaskFilter{TaskID: "A1"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Watson, Mary Jane", all[0].Text("Customer"))
}

func TestUpdateUnknownTaskForOfflineEngineerIsIgnored(t *testing.T) {
	h := setup(t)

	ack, err := h.engine.Apply(context.Background(), &types.InboundEvent{
		Action:     types.ActionUpdate,
		AssignedTo: "E1",
		Properties: taskProps("A1", "Dispatched", today.Add(9*time.Hour)),
	})
	require.NoError(t, err)
	assert.True(t, ack.Success)
	h.engine.Flush()

	assert.Nil(t, h.find(t, "A1"))
}

func TestUpdateUnknownTaskForOnlineEngineerCreates(t *testing.T) {
	h := setup(t)
	_, ch := h.online(t, "E1")

	_, err := h.engine.Apply(context.Background(), &types.InboundEvent{
		Action:     types.ActionUpdate,
		AssignedTo: "E1",
		Properties: taskProps("A1", "Dispatched", today.Add(9*time.Hour)),
	})
	require.NoError(t, err)
	h.engine.Flush()

	require.NotNil(t, h.find(t, "A1"))
	assert.Len(t, scheduleTasks(t, receive(t, ch)), 1)
}

func TestUpdateReassignsBetweenOnlineEngineers(t *testing.T) {
	h := setup(t)
	h.seed(t, "E1", "A1", "Dispatched", today.Add(9*time.Hour))
	_, ch1 := h.online(t, "E1")
	_, ch2 := h.online(t, "E2")

	ack, err := h.engine.Apply(context.Background(), &types.InboundEvent{
		Action:     types.ActionUpdate,
		AssignedTo: "E2",
		Properties: taskProps("A1", "Dispatched", today.Add(9*time.Hour)),
	})
	require.NoError(t, err)
	assert.True(t, ack.Success)
	h.engine.Flush()

	assert.Equal(t, "E2", h.find(t, "A1").AssignedTo)
	assert.Empty(t, scheduleTasks(t, receive(t, ch1)))
	assert.Len(t, scheduleTasks(t, receive(t, ch2)), 1)
}

func TestUpdateReassignedToOfflineEngineerDropsLocalCopy(t *testing.T) {
	h := setup(t)
	h.seed(t, "E1", "A1", "Dispatched", today.Add(9*time.Hour))
	_, ch1 := h.online(t, "E1")

	ack, err := h.engine.Apply(context.Background(), &types.InboundEvent{
		Action:     types.ActionUpdate,
		AssignedTo: "E3",
		Properties: taskProps("A1", "Dispatched", today.Add(9*time.Hour)),
	})
	require.NoError(t, err)
	assert.True(t, ack.Success)
	h.engine.Flush()

	assert.Nil(t, h.find(t, "A1"))
	assert.Empty(t, scheduleTasks(t, receive(t, ch1)))
}

func TestDeleteIsIdempotent(t *testing.T) {
	h := setup(t)
	h.seed(t, "E1", "A1", "Dispatched", today.Add(9*time.Hour))
	_, ch := h.online(t, "E1")

	ev := &types.InboundEvent{
		Action:     types.ActionDelete,
		AssignedTo: "E1",
		Properties: map[string]any{"ID": "A1"},
	}

	ack, err := h.engine.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, ack.Success)
	h.engine.Flush()
	assert.Nil(t, h.find(t, "A1"))
	assert.Empty(t, scheduleTasks(t, receive(t, ch)))

	ack, err = h.engine.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, ack.Success)
	h.engine.Flush()
	assert.Empty(t, ch)
}

func TestDeleteNotifiesStoredEngineer(t *testing.T) {
	h := setup(t)
	h.seed(t, "E1", "A1", "Dispatched", today.Add(9*time.Hour))
	_, ch := h.online(t, "E1")

	// The event names a different engineer than the stored record.
	_, err := h.engine.Apply(context.Background(), &types.InboundEvent{
		Action:     types.ActionDelete,
		AssignedTo: "E2",
		Properties: map[string]any{"ID": "A1"},
	})
	require.NoError(t, err)
	h.engine.Flush()

	assert.Empty(t, scheduleTasks(t, receive(t, ch)))
}

func TestApplyRejectsInvalidEvents(t *testing.T) {
	h := setup(t)

	tests := []struct {
		name    string
		event   *types.InboundEvent
		wantErr error
	}{
		{
			name:    "delete without identifier",
			event:   &types.InboundEvent{Action: types.ActionDelete, AssignedTo: "E1", Properties: map[string]any{}},
			wantErr: types.ErrValidationFailed,
		},
		{
			name: "unknown property",
			event: &types.InboundEvent{Action: types.ActionCreate, AssignedTo: "E1", Properties: map[string]any{
				"ID": "A1", "Colour": "red",
			}},
			wantErr: types.ErrUnknownProperty,
		},
		{
			name:    "unknown action",
			event:   &types.InboundEvent{Action: "merge", AssignedTo: "E1", Properties: map[string]any{"ID": "A1"}},
			wantErr: types.ErrValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, err := h.engine.Apply(context.Background(), tt.event)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.False(t, ack.Success)
		})
	}
}

func TestStorageFailureIsAcknowledgedAsFailure(t *testing.T) {
	h := setupWith(t, func(s *db.Store) reconcile.TaskStore { return failingStore{s} }, nil)
	_, ch := h.online(t, "E1")

	ack, err := h.engine.Apply(context.Background(), &types.InboundEvent{
		Action:     types.ActionCreate,
		AssignedTo: "E1",
		Properties: taskProps("A1", "Dispatched", today.Add(9*time.Hour)),
	})
	require.ErrorIs(t, err, types.ErrStorageFailure)
	assert.Equal(t, types.Ack{Action: types.ActionCreate, Success: false}, ack)
	h.engine.Flush()
	assert.Empty(t, ch)
}

// display builds the client-side representation of a seeded task
func display(id, status string, start time.Time) map[string]any {
	return map[string]any{
		"ID":       id,
		"Status":   status,
		"Start":    convert.FormatMillis(start.UnixMilli()),
		"Finish":   convert.FormatMillis(start.Add(time.Hour).UnixMilli()),
		"Customer": "Parker, Peter",
	}
}

func TestTransitionAppliesAndForwards(t *testing.T) {
	h := setup(t)
	start := today.Add(9 * time.Hour)
	h.seed(t, "E1", "A1", "Dispatched", start)
	origin, originCh := h.online(t, "E1")
	_, peerCh := h.online(t, "E1")

	claimed := display("A1", "Working", start)
	claimed["Comment"] = "on my way"

	err := h.engine.Transition(context.Background(), reconcile.TransitionRequest{
		EngineerID: "E1",
		SessionID:  origin,
		Task:       claimed,
	})
	require.NoError(t, err)
	h.engine.Flush()

	stored := h.find(t, "A1")
	assert.Equal(t, "Working", stored.Text("Status"))
	assert.Equal(t, "on my way", stored.Text("Comment"))

	msgs := h.forwarder.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "A1", msgs[0].TaskID)
	assert.Equal(t, "E1", msgs[0].EngineerID)
	assert.Contains(t, msgs[0].Fields, types.WireField{Object: schema.ObjectTask, Name: "Status", Value: "Working"})

	assert.Equal(t, events.EventSchedulePullRequest, receive(t, peerCh).Event)
	assert.Empty(t, originCh)
}

func TestTransitionFinishMayChangeOnTerminalStatus(t *testing.T) {
	h := setup(t)
	start := today.Add(9 * time.Hour)
	h.seed(t, "E1", "A1", "Working", start)

	claimed := display("A1", "Done", start)
	claimed["Finish"] = convert.FormatMillis(start.Add(2 * time.Hour).UnixMilli())

	require.NoError(t, h.engine.Transition(context.Background(), reconcile.TransitionRequest{EngineerID: "E1", Task: claimed}))
	h.engine.Flush()

	finish, ok := schema.Millis(h.find(t, "A1").Properties["Finish"])
	require.True(t, ok)
	assert.Equal(t, start.Add(2*time.Hour).UnixMilli(), finish)
}

func TestTransitionAcceptsEquivalentTimeNotations(t *testing.T) {
	start := today.Add(9 * time.Hour)

	for _, notation := range []string{
		start.Format("2006-01-02T15:04:05Z"),
		start.In(time.FixedZone("", 2*60*60)).Format("2006-01-02T15:04:05-07:00"),
	} {
		t.Run(notation, func(t *testing.T) {
			h := setup(t)
			h.seed(t, "E1", "A1", "Dispatched", start)

			claimed := display("A1", "Working", start)
			claimed["Start"] = notation
			require.NoError(t, h.engine.Transition(context.Background(), reconcile.TransitionRequest{EngineerID: "E1", Task: claimed}))
			h.engine.Flush()

			assert.Equal(t, "Working", h.find(t, "A1").Text("Status"))
		})
	}
}

func TestTransitionRejectsMovedStartInAnyNotation(t *testing.T) {
	h := setup(t)
	start := today.Add(9 * time.Hour)
	h.seed(t, "E1", "A1", "Dispatched", start)

	claimed := display("A1", "Working", start)
	claimed["Start"] = start.Add(30 * time.Minute).Format("2006-01-02T15:04:05Z")
	err := h.engine.Transition(context.Background(), reconcile.TransitionRequest{EngineerID: "E1", Task: claimed})
	require.ErrorIs(t, err, types.ErrReadOnlyViolation)
	assert.Equal(t, "Dispatched", h.find(t, "A1").Text("Status"))
}

func TestTransitionRejections(t *testing.T) {
	start := today.Add(9 * time.Hour)

	tests := []struct {
		name     string
		engineer string
		seed     func(t *testing.T, h *harness)
		claimed  func() map[string]any
		wantErr  error
	}{
		{
			name:     "not found",
			engineer: "E1",
			seed:     func(*testing.T, *harness) {},
			claimed:  func() map[string]any { return display("A1", "Working", start) },
			wantErr:  types.ErrNotFound,
		},
		{
			name:     "invalid transition",
			engineer: "E1",
			claimed:  func() map[string]any { return display("A1", "Done", start) },
			wantErr:  types.ErrInvalidTransition,
		},
		{
			name:     "not assigned to engineer",
			engineer: "E2",
			claimed:  func() map[string]any { return display("A1", "Working", start) },
			wantErr:  types.ErrAuthorizationDenied,
		},
		{
			name:     "earlier task still open",
			engineer: "E1",
			seed: func(t *testing.T, h *harness) {
				h.seed(t, "E1", "A1", "Dispatched", start)
				h.seed(t, "E1", "A2", "Dispatched", start.Add(2*time.Hour))
			},
			claimed: func() map[string]any { return display("A2", "Working", start.Add(2*time.Hour)) },
			wantErr: types.ErrPolicyViolation,
		},
		{
			name:     "read-only property changed",
			engineer: "E1",
			claimed: func() map[string]any {
				c := display("A1", "Working", start)
				c["Customer"] = "Osborn, Norman"
				return c
			},
			wantErr: types.ErrReadOnlyViolation,
		},
		{
			name:     "finish changed on non-terminal status",
			engineer: "E1",
			claimed: func() map[string]any {
				c := display("A1", "Working", start)
				c["Finish"] = convert.FormatMillis(start.Add(3 * time.Hour).UnixMilli())
				return c
			},
			wantErr: types.ErrReadOnlyViolation,
		},
		{
			name:     "comment too long",
			engineer: "E1",
			claimed: func() map[string]any {
				c := display("A1", "Working", start)
				c["Comment"] = strings.Repeat("x", 65)
				return c
			},
			wantErr: types.ErrValidationFailed,
		},
		{
			name:     "unknown property",
			engineer: "E1",
			claimed: func() map[string]any {
				c := display("A1", "Working", start)
				c["Colour"] = "red"
				return c
			},
			wantErr: types.ErrUnknownProperty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t)
			if tt.seed != nil {
				tt.seed(t, h)
			} else {
				h.seed(t, "E1", "A1", "Dispatched", start)
			}

			err := h.engine.Transition(context.Background(), reconcile.TransitionRequest{
				EngineerID: tt.engineer,
				Task:       tt.claimed(),
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			h.engine.Flush()
			assert.Empty(t, h.forwarder.all())
		})
	}
}

func TestTransitionRejectsFinishBeforeStart(t *testing.T) {
	h := setup(t)
	start := today.Add(9 * time.Hour)
	h.seed(t, "E1", "A1", "Working", start)

	claimed := display("A1", "Done", start)
	claimed["Finish"] = convert.FormatMillis(start.Add(-time.Hour).UnixMilli())

	err := h.engine.Transition(context.Background(), reconcile.TransitionRequest{EngineerID: "E1", Task: claimed})
	require.ErrorIs(t, err, types.ErrInvalidInterval)
	assert.Equal(t, "Working", h.find(t, "A1").Text("Status"))
}

func TestPopulateReplacesSchedule(t *testing.T) {
	source := staticSource{
		"E1": {
			{"ID": "P1", "Status": "Dispatched", "Start": "2012-09-01T09:00:00", "Finish": "2012-09-01T10:00:00", "Customer": "Stark, Tony"},
			{"ID": "P2", "Status": "Dispatched", "Start": "2012-09-01T11:00:00", "Finish": "2012-09-01T12:00:00", "Customer": "Banner, Bruce"},
		},
	}
	h := setupWith(t, nil, source)
	h.seed(t, "E1", "OLD", "Dispatched", today.Add(7*time.Hour))

	tasks, err := h.engine.Populate(context.Background(), "E1", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "P1", tasks[0]["ID"].Value)
	assert.Equal(t, "P2", tasks[1]["ID"].Value)
	assert.Nil(t, h.find(t, "OLD"))
}

func TestPopulateWithoutSource(t *testing.T) {
	h := setup(t)
	_, err := h.engine.Populate(context.Background(), "E1", 0)
	assert.ErrorIs(t, err, reconcile.ErrNoScheduleSource)
}
