package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/formreg/internal/core"
	"github.com/JonMunkholm/formreg/internal/form"
	"github.com/JonMunkholm/formreg/internal/storage/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	svc     *core.Service
	schema  *form.FormSchema
	name    form.FieldDefinition
	color   form.FieldDefinition
	files   form.FieldDefinition
	subject form.Subject
	other   form.Subject
	owner   core.StaticActor
}

func newFixture(t *testing.T, closesAt time.Time) *fixture {
	t.Helper()
	f := &fixture{store: memory.New()}

	f.name = form.NewFieldDefinition("Name", true, form.TextKind{MinLength: form.Int(1), MaxLength: form.Int(40)})
	f.color = form.NewFieldDefinition("Color", false, form.MultiChoiceKind{
		Options:      []string{"Red", "Blue"},
		MaxSelection: form.Int(1),
	})
	f.files = form.NewFieldDefinition("Files", false, form.FileUploadKind{MaxCount: form.Int(2)})

	schema, err := form.NewFormSchema(uuid.New(), "Registration", "", now.Add(-time.Hour), closesAt, f.name, f.color, f.files)
	require.NoError(t, err)
	schema.Targets = form.Targets{Groups: []string{"junior"}}
	f.schema = schema
	require.NoError(t, f.store.PutSchema(context.Background(), schema))

	f.subject = form.Subject{ID: uuid.New(), Title: "Team One", Group: "junior"}
	f.other = form.Subject{ID: uuid.New(), Title: "Team Two", Group: "senior"}
	require.NoError(t, f.store.PutSubject(context.Background(), f.subject))
	require.NoError(t, f.store.PutSubject(context.Background(), f.other))

	f.owner = core.StaticActor{
		Name:         "owner",
		Subjects:     []uuid.UUID{f.subject.ID},
		Capabilities: []core.Capability{core.CapCreateSubmission},
	}

	svc, err := core.NewService(core.Options{
		Storage: f.store,
		Files:   f.store,
		Audit:   f.store,
		Clock:   fixedClock{now},
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) values(name string) []form.FieldValue {
	return []form.FieldValue{{FieldID: f.name.ID, Answer: form.TextAnswer(name)}}
}

func (f *fixture) create(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := f.svc.CreateSubmission(context.Background(), core.CreateSubmissionCommand{
		Actor:    f.owner,
		SchemaID: f.schema.ID,
		Values:   f.values("Gophers"),
	})
	require.NoError(t, err)
	return id
}

func TestNewService_RequiresStorage(t *testing.T) {
	_, err := core.NewService(core.Options{})
	assert.Error(t, err)
}

func TestCreateSubmission(t *testing.T) {
	f := newFixture(t, time.Time{})
	id := f.create(t)

	rec, err := f.store.GetSubmissionByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, f.subject.ID, rec.SubjectID)
	assert.Equal(t, f.schema.ID, rec.SchemaID)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Equal(t, f.values("Gophers"), rec.Values)

	entries := f.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, core.ActionSubmissionCreate, entries[0].Action)
	assert.Equal(t, id, entries[0].SubmissionID)
	assert.Equal(t, "owner", entries[0].ActorID)
}

func TestCreateSubmission_Preconditions(t *testing.T) {
	f := newFixture(t, time.Time{})
	missingFile := uuid.New()

	tests := []struct {
		name string
		cmd  func() core.CreateSubmissionCommand
		want error
	}{
		{
			name: "missing capability",
			cmd: func() core.CreateSubmissionCommand {
				return core.CreateSubmissionCommand{
					Actor:    core.StaticActor{Subjects: []uuid.UUID{f.subject.ID}},
					SchemaID: f.schema.ID,
					Values:   f.values("x"),
				}
			},
			want: core.ErrCapabilityDenied,
		},
		{
			name: "no subject",
			cmd: func() core.CreateSubmissionCommand {
				return core.CreateSubmissionCommand{
					Actor:    core.StaticActor{Capabilities: f.owner.Capabilities},
					SchemaID: f.schema.ID,
				}
			},
			want: core.ErrSubjectNotEligible,
		},
		{
			name: "two subjects",
			cmd: func() core.CreateSubmissionCommand {
				return core.CreateSubmissionCommand{
					Actor:    core.StaticActor{Subjects: []uuid.UUID{f.subject.ID, f.other.ID}, Capabilities: f.owner.Capabilities},
					SchemaID: f.schema.ID,
				}
			},
			want: core.ErrSubjectNotEligible,
		},
		{
			name: "unknown schema",
			cmd: func() core.CreateSubmissionCommand {
				return core.CreateSubmissionCommand{Actor: f.owner, SchemaID: uuid.New()}
			},
			want: core.ErrNotFound,
		},
		{
			name: "subject not targeted",
			cmd: func() core.CreateSubmissionCommand {
				return core.CreateSubmissionCommand{
					Actor:    core.StaticActor{Subjects: []uuid.UUID{f.other.ID}, Capabilities: f.owner.Capabilities},
					SchemaID: f.schema.ID,
					Values:   f.values("x"),
				}
			},
			want: core.ErrCapabilityDenied,
		},
		{
			name: "missing file",
			cmd: func() core.CreateSubmissionCommand {
				return core.CreateSubmissionCommand{
					Actor:    f.owner,
					SchemaID: f.schema.ID,
					Values: append(f.values("x"), form.FieldValue{
						FieldID: f.files.ID,
						Answer:  form.FileUploadAnswer{missingFile},
					}),
				}
			},
			want: core.ErrNotFound,
		},
		{
			name: "invalid answers",
			cmd: func() core.CreateSubmissionCommand {
				return core.CreateSubmissionCommand{Actor: f.owner, SchemaID: f.schema.ID}
			},
			want: form.ErrMissingField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := f.svc.CreateSubmission(context.Background(), tt.cmd())
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, uuid.Nil, id)
		})
	}

	list, err := f.store.ListSubmissionsForSchema(context.Background(), f.schema.ID)
	require.NoError(t, err)
	assert.Empty(t, list, "failed creates leave no submission behind")
}

func TestCreateSubmission_FileErrorNamesFile(t *testing.T) {
	f := newFixture(t, time.Time{})
	present, missing := uuid.New(), uuid.New()
	require.NoError(t, f.store.PutFile(context.Background(), present, "upload.bin"))

	_, err := f.svc.CreateSubmission(context.Background(), core.CreateSubmissionCommand{
		Actor:    f.owner,
		SchemaID: f.schema.ID,
		Values: append(f.values("x"), form.FieldValue{
			FieldID: f.files.ID,
			Answer:  form.FileUploadAnswer{present, missing},
		}),
	})

	var fileErr *core.FileNotFoundError
	require.ErrorAs(t, err, &fileErr)
	assert.Equal(t, missing, fileErr.FileID)
}

func TestCreateSubmission_ChecksRunBeforeValidation(t *testing.T) {
	f := newFixture(t, time.Time{})

	// Both the subject and the answers are wrong; the subject check wins.
	_, err := f.svc.CreateSubmission(context.Background(), core.CreateSubmissionCommand{
		Actor:    core.StaticActor{Subjects: []uuid.UUID{f.other.ID}, Capabilities: f.owner.Capabilities},
		SchemaID: f.schema.ID,
	})
	assert.ErrorIs(t, err, core.ErrCapabilityDenied)
}

func TestCreateSubmission_AlreadyExists(t *testing.T) {
	f := newFixture(t, time.Time{})
	f.create(t)

	_, err := f.svc.CreateSubmission(context.Background(), core.CreateSubmissionCommand{
		Actor:    f.owner,
		SchemaID: f.schema.ID,
		Values:   f.values("Again"),
	})
	assert.ErrorIs(t, err, core.ErrAlreadyExists)
}

func TestCreateSubmission_ConcurrentSamePair(t *testing.T) {
	for round := 0; round < 50; round++ {
		f := newFixture(t, time.Time{})

		const callers = 2
		var wg sync.WaitGroup
		errs := make([]error, callers)
		start := make(chan struct{})
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, errs[i] = f.svc.CreateSubmission(context.Background(), core.CreateSubmissionCommand{
					Actor:    f.owner,
					SchemaID: f.schema.ID,
					Values:   f.values("Racer"),
				})
			}()
		}
		close(start)
		wg.Wait()

		var ok, dup int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, core.ErrAlreadyExists):
				dup++
			default:
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		require.Equal(t, 1, ok, "round %d", round)
		require.Equal(t, 1, dup, "round %d", round)
	}
}

func TestCreateSubmission_CancelledHasNoSideEffects(t *testing.T) {
	f := newFixture(t, time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.CreateSubmission(ctx, core.CreateSubmissionCommand{
		Actor:    f.owner,
		SchemaID: f.schema.ID,
		Values:   f.values("Gophers"),
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = f.store.GetSubmission(context.Background(), f.subject.ID, f.schema.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, f.store.AuditEntries())
}

// lenientStore stores submissions without a uniqueness check and stalls in
// GetSubmission, so only the service's critical section keeps creates for
// one (subject, schema) pair apart.
type lenientStore struct {
	*memory.Store

	mu      sync.Mutex
	byPair  map[[2]uuid.UUID]uuid.UUID
	inserts int
}

func newLenientStore(base *memory.Store) *lenientStore {
	return &lenientStore{Store: base, byPair: make(map[[2]uuid.UUID]uuid.UUID)}
}

func (s *lenientStore) GetSubmission(ctx context.Context, subjectID, schemaID uuid.UUID) (*form.SubmissionRecord, error) {
	time.Sleep(5 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPair[[2]uuid.UUID{subjectID, schemaID}]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &form.SubmissionRecord{ID: id, SubjectID: subjectID, SchemaID: schemaID}, nil
}

func (s *lenientStore) InsertSubmission(ctx context.Context, rec *form.SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	s.byPair[[2]uuid.UUID{rec.SubjectID, rec.SchemaID}] = rec.ID
	return nil
}

func TestCreateSubmission_SectionSerializesCheckAndInsert(t *testing.T) {
	f := newFixture(t, time.Time{})
	store := newLenientStore(f.store)
	svc, err := core.NewService(core.Options{
		Storage: store,
		Files:   f.store,
		Audit:   f.store,
		Clock:   fixedClock{now},
	})
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = svc.CreateSubmission(context.Background(), core.CreateSubmissionCommand{
				Actor:    f.owner,
				SchemaID: f.schema.ID,
				Values:   f.values("Racer"),
			})
		}()
	}
	close(start)
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, core.ErrAlreadyExists):
			dup++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, dup)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.inserts)
}

// cancellingFiles reports every file as present and cancels the request
// while doing so. Validation still passes afterwards, so the cancellation
// is first observed when entering the critical section.
type cancellingFiles struct {
	cancel context.CancelFunc
}

func (c cancellingFiles) FileExists(ctx context.Context, id uuid.UUID) (bool, error) {
	c.cancel()
	return true, nil
}

func TestCreateSubmission_CancelledBeforeSection(t *testing.T) {
	f := newFixture(t, time.Time{})
	store := newLenientStore(f.store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, err := core.NewService(core.Options{
		Storage: store,
		Files:   cancellingFiles{cancel: cancel},
		Audit:   f.store,
		Clock:   fixedClock{now},
	})
	require.NoError(t, err)

	values := append(f.values("Gophers"), form.FieldValue{
		FieldID: f.files.ID,
		Answer:  form.FileUploadAnswer{uuid.New()},
	})
	require.NoError(t, svc.Validate(context.Background(), f.schema.ID, values))

	_, err = svc.CreateSubmission(ctx, core.CreateSubmissionCommand{
		Actor:    f.owner,
		SchemaID: f.schema.ID,
		Values:   values,
	})
	require.ErrorIs(t, err, context.Canceled)

	store.mu.Lock()
	assert.Zero(t, store.inserts)
	store.mu.Unlock()
	assert.Empty(t, f.store.AuditEntries())
}

func TestUpdateSubmission(t *testing.T) {
	f := newFixture(t, time.Time{})
	id := f.create(t)

	values := []form.FieldValue{
		{FieldID: f.color.ID, Answer: form.MultiChoiceAnswer{"Blue"}},
		{FieldID: f.name.ID, Answer: form.TextAnswer("Renamed")},
	}
	err := f.svc.UpdateSubmission(context.Background(), core.UpdateSubmissionCommand{
		Actor:        f.owner,
		SubmissionID: id,
		Values:       values,
	})
	require.NoError(t, err)

	rec, err := f.store.GetSubmissionByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, values, rec.Values, "values are replaced, not merged")

	entries := f.store.AuditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, core.ActionSubmissionUpdate, entries[1].Action)
}

func TestUpdateSubmission_Idempotent(t *testing.T) {
	f := newFixture(t, time.Time{})
	id := f.create(t)
	cmd := core.UpdateSubmissionCommand{Actor: f.owner, SubmissionID: id, Values: f.values("Same")}

	require.NoError(t, f.svc.UpdateSubmission(context.Background(), cmd))
	first, err := f.store.GetSubmissionByID(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdateSubmission(context.Background(), cmd))
	second, err := f.store.GetSubmissionByID(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUpdateSubmission_Gates(t *testing.T) {
	f := newFixture(t, time.Time{})
	id := f.create(t)

	stranger := core.StaticActor{Name: "stranger", Subjects: []uuid.UUID{f.other.ID}}
	admin := core.StaticActor{Name: "admin", Capabilities: []core.Capability{core.CapEditAnySubmission}}

	err := f.svc.UpdateSubmission(context.Background(), core.UpdateSubmissionCommand{
		Actor: stranger, SubmissionID: id, Values: f.values("x"),
	})
	assert.ErrorIs(t, err, core.ErrCapabilityDenied)

	err = f.svc.UpdateSubmission(context.Background(), core.UpdateSubmissionCommand{
		Actor: admin, SubmissionID: id, Values: f.values("x"),
	})
	assert.NoError(t, err)

	err = f.svc.UpdateSubmission(context.Background(), core.UpdateSubmissionCommand{
		Actor: f.owner, SubmissionID: uuid.New(), Values: f.values("x"),
	})
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = f.svc.UpdateSubmission(context.Background(), core.UpdateSubmissionCommand{
		Actor: f.owner, SubmissionID: id, Values: f.values(""),
	})
	assert.ErrorIs(t, err, form.ErrTooShort)
}

func TestUpdateSubmission_WindowClosed(t *testing.T) {
	f := newFixture(t, now.Add(-time.Minute))

	// Insert directly; creation does not look at the window.
	rec := &form.SubmissionRecord{ID: uuid.New(), SubjectID: f.subject.ID, SchemaID: f.schema.ID, Values: f.values("Early")}
	require.NoError(t, f.store.InsertSubmission(context.Background(), rec))

	err := f.svc.UpdateSubmission(context.Background(), core.UpdateSubmissionCommand{
		Actor: f.owner, SubmissionID: rec.ID, Values: f.values("Late"),
	})
	assert.ErrorIs(t, err, core.ErrSubmissionWindowClosed)

	late := f.owner
	late.Capabilities = []core.Capability{core.CapEditAnytime}
	err = f.svc.UpdateSubmission(context.Background(), core.UpdateSubmissionCommand{
		Actor: late, SubmissionID: rec.ID, Values: f.values("Late"),
	})
	assert.NoError(t, err)
}

func TestGetSubmission(t *testing.T) {
	f := newFixture(t, time.Time{})

	_, err := f.svc.GetSubmission(context.Background(), f.owner, f.schema.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	id := f.create(t)
	rec, err := f.svc.GetSubmission(context.Background(), f.owner, f.schema.ID)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
}

func TestValidate_DryRun(t *testing.T) {
	f := newFixture(t, time.Time{})

	err := f.svc.Validate(context.Background(), f.schema.ID, nil)
	assert.ErrorIs(t, err, form.ErrMissingField)

	require.NoError(t, f.svc.Validate(context.Background(), f.schema.ID, f.values("ok")))
	_, err = f.store.GetSubmission(context.Background(), f.subject.ID, f.schema.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestExport(t *testing.T) {
	f := newFixture(t, time.Time{})
	f.create(t)
	require.NoError(t, f.store.PutSubject(context.Background(), form.Subject{ID: uuid.New(), Title: "Team Three", Group: "junior"}))

	exporter := core.StaticActor{Name: "exporter", Capabilities: []core.Capability{core.CapExportSubmissions}}

	_, err := f.svc.Export(context.Background(), f.owner, f.schema.ID)
	require.ErrorIs(t, err, core.ErrCapabilityDenied)

	session, err := f.svc.Export(context.Background(), exporter, f.schema.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.svc.ExportLimiter().ActiveCount())

	assert.Equal(t, []string{"#", "Subject", "Group", "Submitted At", "Name", "Color Red", "Color Blue", "Files"}, session.Header)

	ctx := context.Background()
	var rows [][]string
	for session.Rows.Next(ctx) {
		rows = append(rows, session.Rows.Row())
	}
	require.NoError(t, session.Rows.Err())
	session.Close()
	session.Close()

	assert.Equal(t, 0, f.svc.ExportLimiter().ActiveCount())
	require.Len(t, rows, 2, "only junior subjects are targeted")
	assert.Equal(t, []string{"1", "Team One", "junior", "2026-05-01T12:00:00Z", "Gophers", "", "", ""}, rows[0])
	assert.Equal(t, []string{"2", "Team Three", "junior", "", "", "", "", ""}, rows[1])

	entries := f.store.AuditEntries()
	assert.Equal(t, core.ActionSubmissionExport, entries[len(entries)-1].Action)
}

func TestExport_Busy(t *testing.T) {
	f := newFixture(t, time.Time{})
	limiter := core.NewLimiter(1, 20*time.Millisecond)
	svc, err := core.NewService(core.Options{Storage: f.store, Files: f.store, ExportLimiter: limiter})
	require.NoError(t, err)

	exporter := core.StaticActor{Capabilities: []core.Capability{core.CapExportSubmissions}}
	session, err := svc.Export(context.Background(), exporter, f.schema.ID)
	require.NoError(t, err)
	defer session.Close()

	_, err = svc.Export(context.Background(), exporter, f.schema.ID)
	assert.ErrorIs(t, err, core.ErrBusy)
}
