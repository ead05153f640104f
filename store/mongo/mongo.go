// Package mongo persists every storage contract of the module on a MongoDB
// database: conversation state, transcripts, process events and schedule
// records. Documents are written whole via upsert; the claim and merge
// operations use find-and-update so their check-and-set is a single
// server-side operation.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hupe1980/agentchain/core"
	"github.com/hupe1980/agentchain/eventlog"
	"github.com/hupe1980/agentchain/schedule"
)

const (
	statesCollection      = "conversation_states"
	transcriptsCollection = "transcripts"
	eventsCollection      = "process_events"
	schedulesCollection   = "schedule_records"
)

// Connect dials a MongoDB deployment and returns a Store over the named
// database. The caller owns the client's lifecycle via Close.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// NewStore wraps an existing database handle, for callers that manage the
// client themselves.
func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Store bundles the module's persistence contracts over one database. The
// contracts share method names, so each is exposed as its own facet.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Close disconnects the underlying client if Connect created it.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// States returns the conversation-state facet.
func (s *Store) States() core.StateStore {
	return &stateStore{coll: s.db.Collection(statesCollection)}
}

// Transcripts returns the transcript facet.
func (s *Store) Transcripts() core.TranscriptStore {
	return &transcriptStore{coll: s.db.Collection(transcriptsCollection)}
}

// Events returns the process-event facet.
func (s *Store) Events() eventlog.Store {
	return &eventStore{coll: s.db.Collection(eventsCollection)}
}

// Schedules returns the schedule-record facet.
func (s *Store) Schedules() schedule.Store {
	return &scheduleStore{coll: s.db.Collection(schedulesCollection)}
}

type stateStore struct {
	coll *mongo.Collection
}

func (s *stateStore) Load(ctx context.Context, conversationID string) (*core.State, error) {
	var state core.State
	err := s.coll.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&state)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.NewState(conversationID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", conversationID, err)
	}
	if state.History == nil {
		state.History = map[string][]core.Turn{}
	}
	return &state, nil
}

func (s *stateStore) Save(ctx context.Context, state *core.State) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"conversation_id": state.ID},
		bson.M{"$set": state},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save state %s: %w", state.ID, err)
	}
	return nil
}

type transcriptStore struct {
	coll *mongo.Collection
}

func (s *transcriptStore) Load(ctx context.Context, conversationID string) (*core.Transcript, error) {
	var transcript core.Transcript
	err := s.coll.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&transcript)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.NewTranscript(conversationID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript %s: %w", conversationID, err)
	}
	return &transcript, nil
}

func (s *transcriptStore) Save(ctx context.Context, transcript *core.Transcript) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"conversation_id": transcript.ConversationID},
		bson.M{"$set": transcript},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save transcript %s: %w", transcript.ConversationID, err)
	}
	return nil
}

type eventStore struct {
	coll *mongo.Collection
}

func (s *eventStore) Append(ctx context.Context, event *eventlog.Event) error {
	if _, err := s.coll.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("append event %s/%s: %w", event.ProcessID, event.Type, err)
	}
	return nil
}

func (s *eventStore) Latest(ctx context.Context, processID string) (*eventlog.Event, error) {
	return s.findLatest(ctx, bson.M{"process_id": processID})
}

func (s *eventStore) LatestByConvo(ctx context.Context, convoID string) (*eventlog.Event, error) {
	return s.findLatest(ctx, bson.M{"conversation_id": convoID})
}

func (s *eventStore) LatestOfType(ctx context.Context, processID string, t eventlog.EventType) (*eventlog.Event, error) {
	return s.findLatest(ctx, bson.M{"process_id": processID, "type": t})
}

// MergeCurrent reads the latest event first and then conditions the update
// on its id and type, so a stage transition racing in between makes the
// update match nothing instead of landing on the wrong event.
func (s *eventStore) MergeCurrent(ctx context.Context, processID string, expected eventlog.EventType, fields map[string]any) (*eventlog.Event, error) {
	current, err := s.Latest(ctx, processID)
	if err != nil {
		return nil, err
	}
	if current.Type != expected {
		return nil, fmt.Errorf("%w: current is %q, amendment targets %q", eventlog.ErrStaleEvent, current.Type, expected)
	}

	set := bson.M{"updated": time.Now().UTC()}
	for k, v := range fields {
		set["fields."+k] = v
	}
	var updated eventlog.Event
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": current.ID, "type": expected},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: event %s moved during merge", eventlog.ErrStaleEvent, processID)
	}
	if err != nil {
		return nil, fmt.Errorf("merge event %s: %w", processID, err)
	}
	return &updated, nil
}

func (s *eventStore) findLatest(ctx context.Context, filter bson.M) (*eventlog.Event, error) {
	var event eventlog.Event
	err := s.coll.FindOne(ctx, filter,
		options.FindOne().SetSort(bson.D{{Key: "created", Value: -1}}),
	).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, eventlog.ErrNoEvent
	}
	if err != nil {
		return nil, fmt.Errorf("find latest event: %w", err)
	}
	return &event, nil
}

type scheduleStore struct {
	coll *mongo.Collection
}

func (s *scheduleStore) Get(ctx context.Context, convoID string) (*schedule.Record, error) {
	var record schedule.Record
	err := s.coll.FindOne(ctx, bson.M{"conversation_id": convoID}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, schedule.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule record %s: %w", convoID, err)
	}
	return &record, nil
}

func (s *scheduleStore) Save(ctx context.Context, record *schedule.Record) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"conversation_id": record.ConvoID},
		bson.M{"$set": record},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save schedule record %s: %w", record.ConvoID, err)
	}
	return nil
}

// ClaimDue is the find-and-lock: eligibility filter and lock set run as one
// server-side operation, so two workers can never claim the same record.
func (s *scheduleStore) ClaimDue(ctx context.Context, now time.Time) (*schedule.Record, error) {
	terminal := []schedule.Stage{schedule.StageDone, schedule.StageResolved, schedule.StageOptedOut}
	var record schedule.Record
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{
			"stage":       bson.M{"$nin": terminal},
			"next_due_at": bson.M{"$lte": now},
			"locked":      false,
		},
		bson.M{"$set": bson.M{"locked": true, "locked_at": now, "updated": now}},
		options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "next_due_at", Value: 1}}).
			SetReturnDocument(options.After),
	).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, schedule.ErrNoneDue
	}
	if err != nil {
		return nil, fmt.Errorf("claim due schedule record: %w", err)
	}
	return &record, nil
}

func (s *scheduleStore) LatestByEmail(ctx context.Context, email string) (*schedule.Record, error) {
	var record schedule.Record
	err := s.coll.FindOne(ctx, bson.M{"email": email},
		options.FindOne().SetSort(bson.D{{Key: "updated", Value: -1}}),
	).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, schedule.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find schedule record by email: %w", err)
	}
	return &record, nil
}

func (s *scheduleStore) ReleaseStale(ctx context.Context, lockedBefore time.Time) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"locked": true, "locked_at": bson.M{"$lt": lockedBefore}},
		bson.M{"$set": bson.M{"locked": false}, "$unset": bson.M{"locked_at": ""}},
	)
	if err != nil {
		return 0, fmt.Errorf("release stale schedule locks: %w", err)
	}
	return res.ModifiedCount, nil
}
