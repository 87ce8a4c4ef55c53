package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/FieldLift/LiftDesk/internal/broker/messages"
	"github.com/FieldLift/LiftDesk/internal/models"
	"github.com/FieldLift/LiftDesk/internal/statuslog"
	"github.com/FieldLift/LiftDesk/internal/ticketstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	ticket   models.Ticket
	getErr   error
	patchErr error
	patches  []ticketstore.TicketPatch
}

func (s *fakeStore) GetTicket(_ context.Context, id uint64) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	t := s.ticket
	t.ID = id
	return &t, nil
}

func (s *fakeStore) PatchTicket(_ context.Context, _ uint64, p ticketstore.TicketPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patchErr != nil {
		return s.patchErr
	}
	s.patches = append(s.patches, p)
	if p.StatusID != nil {
		s.ticket.StatusID = *p.StatusID
	}
	if p.StatusTracker != nil {
		s.ticket.StatusTracker = *p.StatusTracker
	}
	if p.EmployeeName != nil {
		s.ticket.EmployeeName = *p.EmployeeName
	}
	if p.EmployeePhone != nil {
		s.ticket.EmployeePhone = *p.EmployeePhone
	}
	if p.Priority != nil {
		s.ticket.Priority = *p.Priority
	}
	if p.ClearArrivalDate {
		s.ticket.ArrivalDate = nil
	} else if p.ArrivalDate != nil {
		d := *p.ArrivalDate
		s.ticket.ArrivalDate = &d
	}
	s.ticket.Revision++
	return nil
}

type fakeProducer struct {
	mu        sync.Mutex
	published []messages.TicketStatusChanged
	err       error
}

func (p *fakeProducer) Publish(_ context.Context, _ string, _, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var msg messages.TicketStatusChanged
	if err := json.Unmarshal(value, &msg); err != nil {
		return err
	}
	p.published = append(p.published, msg)
	return nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

var (
	engineer = models.Actor{ID: "emp-7", Name: "Jane Doe", Role: models.RoleEmployee, Phone: "+15550123"}
	admin    = models.Actor{ID: "adm-1", Name: "Dispatcher", Role: models.RoleAdmin}
)

func TestNextEntryTransitionTable(t *testing.T) {
	arrival := time.Now().UTC()

	cases := []struct {
		name    string
		from    models.StatusID
		arrival *time.Time
		to      models.StatusID
		ok      bool
		message string
	}{
		{name: "open to assigned", from: models.StatusOpen, to: models.StatusAssigned, ok: true, message: "Engineer is Assigned"},
		{name: "open to done rejected", from: models.StatusOpen, to: models.StatusDone},
		{name: "open to in-progress rejected", from: models.StatusOpen, to: models.StatusInProgress},
		{name: "assigned to in-progress", from: models.StatusAssigned, arrival: &arrival, to: models.StatusInProgress, ok: true, message: "Work started"},
		{name: "assigned without arrival rejected", from: models.StatusAssigned, to: models.StatusInProgress},
		{name: "assigned to done rejected", from: models.StatusAssigned, arrival: &arrival, to: models.StatusDone},
		{name: "in-progress to done", from: models.StatusInProgress, to: models.StatusDone, ok: true, message: "Service Completed"},
		{name: "in-progress to on-hold", from: models.StatusInProgress, to: models.StatusOnHold, ok: true, message: "On-Hold from Employee"},
		{name: "in-progress to pending", from: models.StatusInProgress, to: models.StatusPending, ok: true, message: "Pending from Employee"},
		{name: "in-progress service note", from: models.StatusInProgress, to: models.StatusInProgress, ok: true, message: "Service Update from Employee"},
		{name: "in-progress to open rejected", from: models.StatusInProgress, to: models.StatusOpen},
		{name: "pending resumed", from: models.StatusPending, to: models.StatusInProgress, ok: true, message: "Work resumed"},
		{name: "pending to done", from: models.StatusPending, to: models.StatusDone, ok: true, message: "Service Completed"},
		{name: "pending to on-hold", from: models.StatusPending, to: models.StatusOnHold, ok: true, message: "On-Hold from Employee"},
		{name: "pending to assigned rejected", from: models.StatusPending, to: models.StatusAssigned},
		{name: "on-hold terminal", from: models.StatusOnHold, to: models.StatusInProgress},
		{name: "done terminal", from: models.StatusDone, to: models.StatusOpen},
		{name: "unknown target", from: models.StatusOpen, to: models.StatusID(99)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ticket := &models.Ticket{StatusID: tc.from, ArrivalDate: tc.arrival}
			entry, err := NextEntry(ticket, tc.to, engineer, "")
			if !tc.ok {
				require.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.message, entry.Message)
			require.Equal(t, tc.to, entry.StatusID)
			require.Equal(t, tc.to.Label(), entry.Status)
			require.Equal(t, "Jane Doe", entry.ChangedBy)
			require.False(t, entry.Timestamp.IsZero())
		})
	}
}

func TestNextEntryCustomReasonOverridesDefault(t *testing.T) {
	ticket := &models.Ticket{StatusID: models.StatusInProgress}
	entry, err := NextEntry(ticket, models.StatusOnHold, engineer, "waiting for spare part")
	require.NoError(t, err)
	require.Equal(t, "waiting for spare part", entry.Message)
}

func TestNextEntryAssignTakesActorIdentity(t *testing.T) {
	ticket := &models.Ticket{StatusID: models.StatusOpen, EmployeeName: "Old Guy"}
	entry, err := NextEntry(ticket, models.StatusAssigned, engineer, "")
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", entry.EmployeeName)
	require.Equal(t, "+15550123", entry.EmployeePhone)
}

func TestTransitionWritesStatusAndLogInOnePatch(t *testing.T) {
	store := &fakeStore{ticket: models.Ticket{StatusID: models.StatusOpen, Revision: 3}}
	producer := &fakeProducer{}
	e := New(store, producer, "ticket.status.updated", newMemCache(), time.Minute)

	got, err := e.Transition(context.Background(), 42, models.StatusAssigned, engineer, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusAssigned, got.StatusID)

	require.Len(t, store.patches, 1)
	p := store.patches[0]
	require.NotNil(t, p.StatusID)
	require.NotNil(t, p.StatusTracker)
	require.Equal(t, int64(3), p.ExpectedRevision)

	// Инвариант: status_id равен statusId последней записи лога.
	entries := statuslog.Decode(*p.StatusTracker)
	require.Len(t, entries, 1)
	require.Equal(t, *p.StatusID, entries[len(entries)-1].StatusID)

	// Назначение поднимает приоритет и записывает инженера.
	require.NotNil(t, p.Priority)
	require.Equal(t, "High", *p.Priority)
	require.NotNil(t, p.EmployeeName)
	require.Equal(t, "Jane Doe", *p.EmployeeName)
	require.True(t, p.ClearArrivalDate)
}

func TestTransitionAppendsToExistingLog(t *testing.T) {
	prev := statuslog.Encode([]models.AuditEntry{{
		Message:   "Engineer is Assigned",
		Status:    "Assigned",
		StatusID:  models.StatusAssigned,
		ChangedBy: "Dispatcher",
		Timestamp: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}})
	arrival := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{ticket: models.Ticket{
		StatusID:      models.StatusAssigned,
		StatusTracker: prev,
		ArrivalDate:   &arrival,
	}}
	e := New(store, nil, "", nil, 0)

	_, err := e.Transition(context.Background(), 42, models.StatusInProgress, engineer, "")
	require.NoError(t, err)

	entries := statuslog.Decode(store.ticket.StatusTracker)
	require.Len(t, entries, 2)
	require.Equal(t, "Engineer is Assigned", entries[0].Message)
	require.Equal(t, "Work started", entries[1].Message)
}

func TestTransitionRejectedLeavesStoreUntouched(t *testing.T) {
	store := &fakeStore{ticket: models.Ticket{StatusID: models.StatusDone}}
	producer := &fakeProducer{}
	e := New(store, producer, "ticket.status.updated", nil, 0)

	_, err := e.Transition(context.Background(), 42, models.StatusInProgress, engineer, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Empty(t, store.patches)
	require.Empty(t, producer.published)
}

func TestTransitionPublishesAfterPatch(t *testing.T) {
	store := &fakeStore{ticket: models.Ticket{StatusID: models.StatusOpen}}
	producer := &fakeProducer{}
	e := New(store, producer, "ticket.status.updated", nil, 0)

	_, err := e.Transition(context.Background(), 42, models.StatusAssigned, admin, "")
	require.NoError(t, err)

	require.Len(t, producer.published, 1)
	msg := producer.published[0]
	require.Equal(t, uint64(42), msg.TicketID)
	require.Equal(t, int32(models.StatusAssigned), msg.StatusID)
	require.Equal(t, "Assigned", msg.Status)
	require.Equal(t, "Dispatcher", msg.ChangedBy)
}

func TestTransitionPublishFailureIsNotFatal(t *testing.T) {
	store := &fakeStore{ticket: models.Ticket{StatusID: models.StatusOpen}}
	producer := &fakeProducer{err: errors.New("broker down")}
	e := New(store, producer, "ticket.status.updated", nil, 0)

	got, err := e.Transition(context.Background(), 42, models.StatusAssigned, engineer, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusAssigned, got.StatusID)
}

func TestTransitionStoreErrors(t *testing.T) {
	store := &fakeStore{
		ticket:   models.Ticket{StatusID: models.StatusOpen},
		patchErr: errors.New("connection refused"),
	}
	e := New(store, nil, "", nil, 0)

	_, err := e.Transition(context.Background(), 42, models.StatusAssigned, engineer, "")
	require.ErrorIs(t, err, ErrPersistence)

	// Ошибки конкурентности и not found проходят как есть.
	store.patchErr = ticketstore.ErrStaleWrite
	_, err = e.Transition(context.Background(), 42, models.StatusAssigned, engineer, "")
	require.ErrorIs(t, err, ticketstore.ErrStaleWrite)

	store.patchErr = ticketstore.ErrNotFound
	_, err = e.Transition(context.Background(), 42, models.StatusAssigned, engineer, "")
	require.ErrorIs(t, err, ticketstore.ErrNotFound)
}

func TestScheduleArrival(t *testing.T) {
	store := &fakeStore{ticket: models.Ticket{
		StatusID:      models.StatusAssigned,
		EmployeeName:  "Jane Doe",
		EmployeePhone: "+15550123",
	}}
	e := New(store, nil, "", nil, 0)

	when := time.Date(2025, 5, 3, 14, 30, 0, 0, time.UTC)
	got, err := e.ScheduleArrival(context.Background(), 42, engineer, when, "traffic")
	require.NoError(t, err)
	require.NotNil(t, got.ArrivalDate)
	require.Equal(t, when, *got.ArrivalDate)
	// Статус не меняется.
	require.Equal(t, models.StatusAssigned, got.StatusID)

	entries := statuslog.Decode(got.StatusTracker)
	require.Len(t, entries, 1)
	require.Equal(t, "Engineer will arrive on Sat May 3 2025 at 14:30 due to traffic", entries[0].Message)
	require.Equal(t, models.StatusAssigned, entries[0].StatusID)
	require.NotNil(t, entries[0].ArrivalDate)
}

func TestScheduleArrivalOnlyWhenAssigned(t *testing.T) {
	store := &fakeStore{ticket: models.Ticket{StatusID: models.StatusInProgress}}
	e := New(store, nil, "", nil, 0)

	_, err := e.ScheduleArrival(context.Background(), 42, engineer, time.Now(), "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Empty(t, store.patches)
}

func TestGetReadsThroughCache(t *testing.T) {
	store := &fakeStore{ticket: models.Ticket{StatusID: models.StatusOpen, CustomerName: "Bob"}}
	c := newMemCache()
	e := New(store, nil, "", c, time.Minute)

	got, err := e.Get(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "Bob", got.CustomerName)

	// Второе чтение идёт из кэша: стор можно сломать.
	store.getErr = errors.New("store down")
	got, err = e.Get(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "Bob", got.CustomerName)
}

func TestApplyStatusEventRefreshesCache(t *testing.T) {
	store := &fakeStore{ticket: models.Ticket{StatusID: models.StatusAssigned, CustomerName: "Bob"}}
	c := newMemCache()
	e := New(store, nil, "", c, time.Minute)

	// Прогреваем кэш, затем меняем стор мимо движка.
	_, err := e.Get(context.Background(), 42)
	require.NoError(t, err)
	store.ticket.StatusID = models.StatusInProgress

	require.NoError(t, e.ApplyStatusEvent(context.Background(), messages.TicketStatusChanged{TicketID: 42}))

	got, err := e.Get(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, got.StatusID)
}

func TestApplyStatusEventDropsCacheWhenReloadFails(t *testing.T) {
	store := &fakeStore{ticket: models.Ticket{StatusID: models.StatusAssigned}}
	c := newMemCache()
	e := New(store, nil, "", c, time.Minute)

	_, err := e.Get(context.Background(), 42)
	require.NoError(t, err)

	store.getErr = errors.New("store down")
	require.NoError(t, e.ApplyStatusEvent(context.Background(), messages.TicketStatusChanged{TicketID: 42}))

	_, ok, err := c.Get(context.Background(), "ticket:42:current")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestApplyStatusEventRequiresTicketID(t *testing.T) {
	e := New(&fakeStore{}, nil, "", newMemCache(), time.Minute)
	require.Error(t, e.ApplyStatusEvent(context.Background(), messages.TicketStatusChanged{}))
}
