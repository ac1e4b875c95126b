package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const appointmentsCollection = "appointments"

// apptDoc is the stored shape. Active mirrors Status != cancelled and backs the
// partial unique index on (doctorId, date, time).
type apptDoc struct {
	Appointment `bson:",inline"`
	Active      bool `bson:"active"`
}

// AppointmentRepoMongo stores appointments in a MongoDB collection.
type AppointmentRepoMongo struct {
	coll  *mongo.Collection
	clock Clock
}

// NewAppointmentRepoMongo returns a repository over the appointments collection
// of database. clock stamps createdAt and updatedAt; nil means the system clock.
// Call EnsureIndexes before serving traffic.
func NewAppointmentRepoMongo(database *mongo.Database, clock Clock) *AppointmentRepoMongo {
	if clock == nil {
		clock = SystemClock()
	}
	return &AppointmentRepoMongo{coll: database.Collection(appointmentsCollection), clock: clock}
}

// EnsureIndexes creates the slot uniqueness index and the lookup indexes.
func (r *AppointmentRepoMongo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "doctorId", Value: 1}, {Key: "date", Value: 1}, {Key: "time", Value: 1}},
			Options: options.Index().
				SetName("uniq_active_slot").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{Keys: bson.D{{Key: "patientId", Value: 1}, {Key: "date", Value: -1}}},
		{Keys: bson.D{{Key: "date", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create appointment indexes: %w", err)
	}
	return nil
}

func translateMongo(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return ErrSlotTaken
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (r *AppointmentRepoMongo) Create(ctx context.Context, a *Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := r.clock.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := r.coll.InsertOne(ctx, apptDoc{Appointment: *a, Active: a.Status.Active()})
	return translateMongo(err)
}

func (r *AppointmentRepoMongo) findOne(ctx context.Context, filter bson.M) (*Appointment, error) {
	var doc apptDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, translateMongo(err)
	}
	return &doc.Appointment, nil
}

func (r *AppointmentRepoMongo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*Appointment, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var items []*Appointment
	for cur.Next(ctx) {
		var doc apptDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		a := doc.Appointment
		items = append(items, &a)
	}
	return items, cur.Err()
}

func (r *AppointmentRepoMongo) update(ctx context.Context, id string, set bson.M) (*Appointment, error) {
	set["updatedAt"] = r.clock.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc apptDoc
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		return nil, translateMongo(err)
	}
	return &doc.Appointment, nil
}

func (r *AppointmentRepoMongo) GetByID(ctx context.Context, id string) (*Appointment, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *AppointmentRepoMongo) FindActiveAt(ctx context.Context, doctorID, date, t string) (*Appointment, error) {
	a, err := r.findOne(ctx, bson.M{"doctorId": doctorID, "date": date, "time": t, "active": true})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *AppointmentRepoMongo) BookedTimes(ctx context.Context, doctorID, date string) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"time": 1}).SetSort(bson.D{{Key: "time", Value: 1}})
	items, err := r.find(ctx, bson.M{"doctorId": doctorID, "date": date, "active": true}, opts)
	if err != nil {
		return nil, err
	}
	times := make([]string, 0, len(items))
	for _, a := range items {
		times = append(times, a.Time)
	}
	return times, nil
}

func (r *AppointmentRepoMongo) UpdateStatus(ctx context.Context, id string, status Status, upd StatusUpdate) (*Appointment, error) {
	set := bson.M{"status": status, "active": status.Active()}
	if upd.Notes != "" {
		set["notes"] = upd.Notes
	}
	if upd.CancellationReason != "" {
		set["cancellationReason"] = upd.CancellationReason
	}
	return r.update(ctx, id, set)
}

func (r *AppointmentRepoMongo) Reschedule(ctx context.Context, id, date, t string, startsAt time.Time) (*Appointment, error) {
	return r.update(ctx, id, bson.M{
		"date":                date,
		"time":                t,
		"startsAt":            startsAt,
		"patientReminderSent": false,
		"doctorReminderSent":  false,
	})
}

func (r *AppointmentRepoMongo) UpdatePayment(ctx context.Context, id string, p Payment) (*Appointment, error) {
	return r.update(ctx, id, bson.M{"payment": p})
}

func (r *AppointmentRepoMongo) ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Appointment, int, error) {
	return r.paged(ctx, bson.M{"doctorId": doctorID}, limit, offset)
}

func (r *AppointmentRepoMongo) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	return r.paged(ctx, bson.M{"patientId": patientID}, limit, offset)
}

func (r *AppointmentRepoMongo) paged(ctx context.Context, filter bson.M, limit, offset int) ([]*Appointment, int, error) {
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}, {Key: "time", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	items, err := r.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return items, int(total), nil
}

func (r *AppointmentRepoMongo) ListByDateRange(ctx context.Context, doctorID, start, end string) ([]*Appointment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "time", Value: 1}})
	return r.find(ctx, bson.M{"doctorId": doctorID, "date": bson.M{"$gte": start, "$lte": end}}, opts)
}

func (r *AppointmentRepoMongo) CountByDateRange(ctx context.Context, doctorID, start, end string) (int, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"doctorId": doctorID, "date": bson.M{"$gte": start, "$lte": end}})
	return int(n), err
}

func (r *AppointmentRepoMongo) ListByDate(ctx context.Context, date string, statuses ...Status) ([]*Appointment, error) {
	filter := bson.M{"date": date}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "time", Value: 1}}))
}

func (r *AppointmentRepoMongo) MarkReminderSent(ctx context.Context, id string, kind ReminderKind) (bool, error) {
	var field string
	switch kind {
	case ReminderPatient:
		field = "patientReminderSent"
	case ReminderDoctor:
		field = "doctorReminderSent"
	default:
		return false, fmt.Errorf("unknown reminder kind %q", kind)
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, field: false},
		bson.M{"$set": bson.M{field: true, "updatedAt": r.clock.Now().UTC()}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}
