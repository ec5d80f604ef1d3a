package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medtrack/scheduling-engine/internal/config"
	redisclient "github.com/medtrack/scheduling-engine/internal/redis"
	"github.com/medtrack/scheduling-engine/internal/schedule"
)

// fakeRepo is an in-memory Repository with the same CAS semantics as the
// Postgres implementation.
type fakeRepo struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]Patient
	providers    map[uuid.UUID]Provider
	hours        map[uuid.UUID]schedule.WorkingHours
	appointments map[uuid.UUID]Appointment
	refunds      map[uuid.UUID]RefundRecord
	reschedules  []RescheduleRecord
	events       []EventLog

	hoursErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients:     map[uuid.UUID]Patient{},
		providers:    map[uuid.UUID]Provider{},
		hours:        map[uuid.UUID]schedule.WorkingHours{},
		appointments: map[uuid.UUID]Appointment{},
		refunds:      map[uuid.UUID]RefundRecord{},
	}
}

func (f *fakeRepo) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.patients[id]; ok {
		return &p, nil
	}
	return nil, ErrPatientNotFound
}

func (f *fakeRepo) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.providers[id]; ok {
		return &p, nil
	}
	return nil, ErrProviderNotFound
}

func (f *fakeRepo) GetProviderWorkingHours(ctx context.Context, providerID uuid.UUID) (schedule.WorkingHours, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hoursErr != nil {
		return nil, f.hoursErr
	}
	if h, ok := f.hours[providerID]; ok {
		return h, nil
	}
	return nil, ErrProviderNotFound
}

func (f *fakeRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.appointments[id]; ok {
		return &a, nil
	}
	return nil, ErrAppointmentNotFound
}

func (f *fakeRepo) ListOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.ProviderID == providerID && a.ID != excludeID && IsActive(a.Status) &&
			schedule.Overlaps(a.StartTime, a.EndTime, start, end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListActiveByProviderBetween(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	appts, _ := f.ListOverlapping(ctx, providerID, from, to, uuid.Nil)
	sortByStart(appts)
	return appts, nil
}

func (f *fakeRepo) ListByProviderDay(ctx context.Context, providerID uuid.UUID, day time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	var out []Appointment
	for _, a := range f.appointments {
		if a.ProviderID == providerID && !a.StartTime.Before(dayStart) && a.StartTime.Before(dayEnd) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (f *fakeRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sortByStart(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	f.appointments[appt.ID] = appt
	return &appt, nil
}

func (f *fakeRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.casStatusLocked(id, from, to)
}

func (f *fakeRepo) casStatusLocked(id uuid.UUID, from, to Status) (*Appointment, error) {
	a, ok := f.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	f.appointments[id] = a
	return &a, nil
}

func (f *fakeRepo) CompleteAppointment(ctx context.Context, id uuid.UUID, from Status, notes *string) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.casStatusLocked(id, from, StatusCompleted)
	if err != nil {
		return nil, err
	}
	if notes != nil {
		a.Notes = notes
		f.appointments[id] = *a
	}
	return a, nil
}

func (f *fakeRepo) CancelAppointment(ctx context.Context, id uuid.UUID, from Status, refund RefundRecord) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.casStatusLocked(id, from, StatusCancelled)
	if err != nil {
		return nil, err
	}
	f.refunds[id] = refund
	return a, nil
}

func (f *fakeRepo) GetRefund(ctx context.Context, appointmentID uuid.UUID) (*RefundRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.refunds[appointmentID]; ok {
		return &r, nil
	}
	return nil, ErrRefundNotFound
}

func (f *fakeRepo) RescheduleAppointment(ctx context.Context, oldID uuid.UUID, from Status, successor Appointment, rec RescheduleRecord) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.casStatusLocked(oldID, from, StatusRescheduled); err != nil {
		return nil, err
	}
	now := time.Now()
	successor.CreatedAt = now
	successor.UpdatedAt = now
	f.appointments[successor.ID] = successor
	f.reschedules = append(f.reschedules, rec)
	return &successor, nil
}

func (f *fakeRepo) InsertEvent(ctx context.Context, ev EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func sortByStart(appts []Appointment) {
	for i := 1; i < len(appts); i++ {
		for j := i; j > 0 && appts[j].StartTime.Before(appts[j-1].StartTime); j-- {
			appts[j], appts[j-1] = appts[j-1], appts[j]
		}
	}
}

// nopLocker runs the critical section inline; used where lock contention is
// not what the test is about.
type nopLocker struct{}

func (nopLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type busyLocker struct{}

func (busyLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (f *fakeCache) Invalidate(ctx context.Context, providerID uuid.UUID, day string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, day)
	return nil
}

type fakeReminders struct {
	mu         sync.Mutex
	scheduled  []uuid.UUID
	superseded []uuid.UUID
}

func (f *fakeReminders) Schedule(ctx context.Context, appt Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, appt.ID)
	return nil
}

func (f *fakeReminders) Supersede(ctx context.Context, appointmentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.superseded = append(f.superseded, appointmentID)
	return nil
}

// Fixture helpers

func allWeekHours(startMin, endMin int) schedule.WorkingHours {
	hours := schedule.WorkingHours{}
	for d := time.Sunday; d <= time.Saturday; d++ {
		hours[d] = []schedule.Interval{{StartMinute: startMin, EndMinute: endMin}}
	}
	return hours
}

type fixture struct {
	repo      *fakeRepo
	cache     *fakeCache
	reminders *fakeReminders
	svc       *Service
	patientID uuid.UUID
	provider  Provider
}

func newFixture(t *testing.T, locker redisclient.Locker) *fixture {
	t.Helper()
	repo := newFakeRepo()
	cache := &fakeCache{}
	reminders := &fakeReminders{}

	patientID := uuid.New()
	repo.patients[patientID] = Patient{ID: patientID, Name: "Ada Park"}

	provider := Provider{ID: uuid.New(), Name: "Dr. Osei", FeeCents: 10000}
	repo.providers[provider.ID] = provider
	repo.hours[provider.ID] = allWeekHours(9*60, 12*60)

	svc := NewService(repo, locker, cache, reminders, config.Default(), nil, zerolog.Nop())
	return &fixture{
		repo:      repo,
		cache:     cache,
		reminders: reminders,
		svc:       svc,
		patientID: patientID,
		provider:  provider,
	}
}

// dayAt returns a time n days out at the given clock hour/minute, far enough
// ahead to clear the 24h booking window.
func dayAt(days, hour, min int) time.Time {
	now := time.Now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func (fx *fixture) asPatient() Actor {
	return Actor{ID: fx.patientID, Role: RolePatient}
}

func (fx *fixture) book(t *testing.T, start time.Time) *Appointment {
	t.Helper()
	appt, err := fx.svc.Book(context.Background(), fx.asPatient(), BookInput{
		PatientID:  fx.patientID,
		ProviderID: fx.provider.ID,
		Start:      start,
		Duration:   30 * time.Minute,
	})
	require.NoError(t, err)
	return appt
}

// Tests

func TestBookSucceeds(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	start := dayAt(3, 9, 0)

	appt := fx.book(t, start)

	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, start, appt.StartTime)
	assert.Equal(t, start.Add(30*time.Minute), appt.EndTime)
	assert.Equal(t, int64(10000), appt.FeeCents, "fee is frozen from the provider at booking time")
	assert.Contains(t, fx.cache.invalidated, DayKey(start))
	assert.Equal(t, []uuid.UUID{appt.ID}, fx.reminders.scheduled)
}

func TestBookRejectsShortLeadTime(t *testing.T) {
	fx := newFixture(t, nopLocker{})

	_, err := fx.svc.Book(context.Background(), fx.asPatient(), BookInput{
		PatientID:  fx.patientID,
		ProviderID: fx.provider.ID,
		Start:      time.Now().Add(2 * time.Hour),
		Duration:   30 * time.Minute,
	})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Empty(t, fx.repo.appointments, "validation failures never touch the store")
}

func TestBookUnknownPatient(t *testing.T) {
	fx := newFixture(t, nopLocker{})

	_, err := fx.svc.Book(context.Background(), Actor{ID: uuid.New(), Role: RoleAdmin}, BookInput{
		PatientID:  uuid.New(),
		ProviderID: fx.provider.ID,
		Start:      dayAt(3, 9, 0),
		Duration:   30 * time.Minute,
	})
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestBookForAnotherPatientForbidden(t *testing.T) {
	fx := newFixture(t, nopLocker{})

	_, err := fx.svc.Book(context.Background(), Actor{ID: uuid.New(), Role: RolePatient}, BookInput{
		PatientID:  fx.patientID,
		ProviderID: fx.provider.ID,
		Start:      dayAt(3, 9, 0),
		Duration:   30 * time.Minute,
	})
	var fErr *ForbiddenError
	assert.ErrorAs(t, err, &fErr)
}

func TestBookOverlapConflictWithAlternatives(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	fx.book(t, dayAt(3, 9, 0))

	// 09:15 overlaps the 09:00-09:30 booking.
	_, err := fx.svc.Book(context.Background(), fx.asPatient(), BookInput{
		PatientID:  fx.patientID,
		ProviderID: fx.provider.ID,
		Start:      dayAt(3, 9, 15),
		Duration:   30 * time.Minute,
	})

	var cErr *ConflictError
	require.ErrorAs(t, err, &cErr)
	require.NotEmpty(t, cErr.Alternatives)
	assert.Equal(t, dayAt(3, 9, 30), cErr.Alternatives[0].Start, "nearest free slot comes first")
	for _, alt := range cErr.Alternatives {
		assert.False(t, schedule.Overlaps(alt.Start, alt.End, dayAt(3, 9, 0), dayAt(3, 9, 30)),
			"suggested slot must be free")
	}

	// The adjacent non-overlapping slot still books fine.
	appt := fx.book(t, dayAt(3, 9, 30))
	assert.Equal(t, StatusScheduled, appt.Status)
}

func TestBookConflictReturnedEvenWhenSuggestionsFail(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	fx.book(t, dayAt(3, 9, 0))
	fx.repo.hoursErr = assert.AnError

	_, err := fx.svc.Book(context.Background(), fx.asPatient(), BookInput{
		PatientID:  fx.patientID,
		ProviderID: fx.provider.ID,
		Start:      dayAt(3, 9, 0),
		Duration:   30 * time.Minute,
	})

	var cErr *ConflictError
	require.ErrorAs(t, err, &cErr)
	assert.Empty(t, cErr.Alternatives)
}

func TestBookBusyWhenLockUnavailable(t *testing.T) {
	fx := newFixture(t, busyLocker{})

	_, err := fx.svc.Book(context.Background(), fx.asPatient(), BookInput{
		PatientID:  fx.patientID,
		ProviderID: fx.provider.ID,
		Start:      dayAt(3, 9, 0),
		Duration:   30 * time.Minute,
	})
	assert.ErrorIs(t, err, ErrProviderBusy)
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := redisclient.NewRedisProviderLocker(client, 5*time.Second, 2*time.Second)

	fx := newFixture(t, locker)
	start := dayAt(3, 9, 0)

	const attempts = 10
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fx.svc.Book(context.Background(), fx.asPatient(), BookInput{
				PatientID:  fx.patientID,
				ProviderID: fx.provider.ID,
				Start:      start,
				Duration:   30 * time.Minute,
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range results {
		var cErr *ConflictError
		switch {
		case err == nil:
			successes++
		case assert.ErrorAs(t, err, &cErr):
			conflicts++
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent attempt may win the slot")
	assert.Equal(t, attempts-1, conflicts)

	// The committed set holds no overlapping active pair.
	pairs, err := fx.svc.GetConflicts(context.Background(), fx.provider.ID, start.AddDate(0, 0, -1), start.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestCancelComputesTieredRefund(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	appt := fx.book(t, dayAt(3, 9, 0))

	// 10 hours before start lands in the 50% tier.
	cancelledAt := appt.StartTime.Add(-10 * time.Hour)
	rec, err := fx.svc.Cancel(context.Background(), fx.asPatient(), appt.ID, cancelledAt)
	require.NoError(t, err)

	assert.Equal(t, 50, rec.Percentage)
	assert.Equal(t, int64(5000), rec.AmountCents)
	assert.Equal(t, StatusCancelled, fx.repo.appointments[appt.ID].Status)
	assert.Equal(t, []uuid.UUID{appt.ID}, fx.reminders.superseded)
}

func TestCancelIsIdempotent(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	appt := fx.book(t, dayAt(3, 9, 0))
	cancelledAt := appt.StartTime.Add(-10 * time.Hour)

	first, err := fx.svc.Cancel(context.Background(), fx.asPatient(), appt.ID, cancelledAt)
	require.NoError(t, err)

	second, err := fx.svc.Cancel(context.Background(), fx.asPatient(), appt.ID, cancelledAt)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A retry with a different timestamp still returns the frozen record.
	third, err := fx.svc.Cancel(context.Background(), fx.asPatient(), appt.ID, cancelledAt.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.Len(t, fx.repo.refunds, 1)
}

func TestCancelByStrangerForbidden(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	appt := fx.book(t, dayAt(3, 9, 0))

	_, err := fx.svc.Cancel(context.Background(), Actor{ID: uuid.New(), Role: RolePatient}, appt.ID, time.Now())
	var fErr *ForbiddenError
	assert.ErrorAs(t, err, &fErr)
}

func TestCancelCompletedInvalid(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	id := uuid.New()
	fx.repo.appointments[id] = Appointment{
		ID:         id,
		PatientID:  fx.patientID,
		ProviderID: fx.provider.ID,
		StartTime:  time.Now().Add(-2 * time.Hour),
		EndTime:    time.Now().Add(-90 * time.Minute),
		Status:     StatusCompleted,
	}

	_, err := fx.svc.Cancel(context.Background(), fx.asPatient(), id, time.Now())
	var trErr *InvalidTransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, StatusCompleted, trErr.From)
}

func TestRescheduleCreatesSuccessor(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	appt := fx.book(t, dayAt(3, 9, 0))
	newStart := dayAt(4, 10, 0)

	successor, err := fx.svc.Reschedule(context.Background(), fx.asPatient(), appt.ID, newStart)
	require.NoError(t, err)

	assert.Equal(t, StatusRescheduled, fx.repo.appointments[appt.ID].Status)
	assert.Equal(t, StatusScheduled, successor.Status)
	assert.Equal(t, newStart, successor.StartTime)
	assert.Equal(t, appt.PatientID, successor.PatientID)

	require.Len(t, fx.repo.reschedules, 1)
	rec := fx.repo.reschedules[0]
	assert.Equal(t, appt.ID, rec.AppointmentID)
	assert.Equal(t, successor.ID, rec.SuccessorID)
	assert.Equal(t, appt.StartTime, rec.OldStart)
	assert.Equal(t, newStart, rec.NewStart)

	assert.Contains(t, fx.cache.invalidated, DayKey(appt.StartTime))
	assert.Contains(t, fx.cache.invalidated, DayKey(newStart))
	assert.Contains(t, fx.reminders.superseded, appt.ID)
	assert.Contains(t, fx.reminders.scheduled, successor.ID)
}

func TestRescheduleOntoTakenSlotLeavesOriginalUnchanged(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	victim := fx.book(t, dayAt(3, 9, 0))

	otherPatient := uuid.New()
	fx.repo.patients[otherPatient] = Patient{ID: otherPatient, Name: "Ben Liu"}
	holder, err := fx.svc.Book(context.Background(), Actor{ID: otherPatient, Role: RolePatient}, BookInput{
		PatientID:  otherPatient,
		ProviderID: fx.provider.ID,
		Start:      dayAt(3, 10, 0),
		Duration:   30 * time.Minute,
	})
	require.NoError(t, err)

	_, err = fx.svc.Reschedule(context.Background(), fx.asPatient(), victim.ID, holder.StartTime)
	var cErr *ConflictError
	require.ErrorAs(t, err, &cErr)

	got := fx.repo.appointments[victim.ID]
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Equal(t, victim.StartTime, got.StartTime)
}

func TestRescheduleExcludesOwnInterval(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	appt := fx.book(t, dayAt(3, 9, 0))

	// Shifting by 15 minutes overlaps only the appointment's own window.
	successor, err := fx.svc.Reschedule(context.Background(), fx.asPatient(), appt.ID, dayAt(3, 9, 15))
	require.NoError(t, err)
	assert.Equal(t, dayAt(3, 9, 15), successor.StartTime)
}

func TestBulkReschedulePartialSuccess(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	a := fx.book(t, dayAt(3, 9, 0))
	b := fx.book(t, dayAt(3, 10, 0))
	fx.book(t, dayAt(4, 9, 0)) // occupies the slot item b wants

	results, err := fx.svc.BulkReschedule(context.Background(), Actor{ID: fx.provider.ID, Role: RoleProvider}, []BulkRescheduleItem{
		{AppointmentID: a.ID, NewStart: dayAt(4, 10, 0)}, // free
		{AppointmentID: b.ID, NewStart: dayAt(4, 9, 0)},  // taken by blocker
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Successor)

	var cErr *ConflictError
	assert.ErrorAs(t, results[1].Err, &cErr)
	assert.Equal(t, StatusScheduled, fx.repo.appointments[b.ID].Status, "failed item rolls back nothing else")
}

func TestBulkRescheduleRequiresElevatedRole(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	_, err := fx.svc.BulkReschedule(context.Background(), fx.asPatient(), nil)
	var fErr *ForbiddenError
	assert.ErrorAs(t, err, &fErr)
}

func TestConfirmThenDoubleConfirm(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	appt := fx.book(t, dayAt(3, 9, 0))

	confirmed, err := fx.svc.Confirm(context.Background(), fx.asPatient(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	_, err = fx.svc.Confirm(context.Background(), fx.asPatient(), appt.ID)
	var trErr *InvalidTransitionError
	assert.ErrorAs(t, err, &trErr)
}

func TestCompleteBeforeStartInvalid(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	appt := fx.book(t, dayAt(3, 9, 0))

	_, err := fx.svc.Complete(context.Background(), Actor{ID: fx.provider.ID, Role: RoleProvider}, appt.ID, nil)
	var trErr *InvalidTransitionError
	assert.ErrorAs(t, err, &trErr)
}

func TestCompleteByAssignedProvider(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	id := uuid.New()
	fx.repo.appointments[id] = Appointment{
		ID:         id,
		PatientID:  fx.patientID,
		ProviderID: fx.provider.ID,
		StartTime:  time.Now().Add(-time.Hour),
		EndTime:    time.Now().Add(-30 * time.Minute),
		Status:     StatusConfirmed,
	}

	notes := "routine follow-up"
	done, err := fx.svc.Complete(context.Background(), Actor{ID: fx.provider.ID, Role: RoleProvider}, id, &notes)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.Notes)
	assert.Equal(t, notes, *done.Notes)
}

func TestCompleteByOtherProviderForbidden(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	id := uuid.New()
	fx.repo.appointments[id] = Appointment{
		ID:         id,
		PatientID:  fx.patientID,
		ProviderID: fx.provider.ID,
		StartTime:  time.Now().Add(-time.Hour),
		EndTime:    time.Now().Add(-30 * time.Minute),
		Status:     StatusScheduled,
	}

	_, err := fx.svc.Complete(context.Background(), Actor{ID: uuid.New(), Role: RoleProvider}, id, nil)
	var fErr *ForbiddenError
	assert.ErrorAs(t, err, &fErr)
}

func TestGetScheduleOrdered(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	late := fx.book(t, dayAt(3, 11, 0))
	early := fx.book(t, dayAt(3, 9, 0))

	appts, err := fx.svc.GetSchedule(context.Background(), fx.provider.ID, dayAt(3, 0, 0))
	require.NoError(t, err)
	require.Len(t, appts, 2)
	assert.Equal(t, early.ID, appts[0].ID)
	assert.Equal(t, late.ID, appts[1].ID)
}

func TestGetConflictsDetectsOverlappingPair(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	// Inject a double-booking directly, bypassing the transaction.
	start := dayAt(3, 9, 0)
	for _, offset := range []time.Duration{0, 15 * time.Minute} {
		id := uuid.New()
		fx.repo.appointments[id] = Appointment{
			ID:         id,
			PatientID:  fx.patientID,
			ProviderID: fx.provider.ID,
			StartTime:  start.Add(offset),
			EndTime:    start.Add(offset + 30*time.Minute),
			Status:     StatusScheduled,
		}
	}

	pairs, err := fx.svc.GetConflicts(context.Background(), fx.provider.ID, start.AddDate(0, 0, -1), start.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.True(t, schedule.Overlaps(
		pairs[0].First.StartTime, pairs[0].First.EndTime,
		pairs[0].Second.StartTime, pairs[0].Second.EndTime,
	))
}

func TestListPatientAppointmentsClampsLimit(t *testing.T) {
	fx := newFixture(t, nopLocker{})
	fx.book(t, dayAt(3, 9, 0))

	appts, err := fx.svc.ListPatientAppointments(context.Background(), fx.patientID, -5, -1)
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}
