package attendance

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names shared with the scheduling frontend.
const (
	CollectionSchedules = "oncallschedules"
	CollectionUsers     = "users"
	CollectionWindows   = "openattendances"
)

type windowDoc struct {
	ID       bson.ObjectID `bson:"_id"`
	StartDay time.Time     `bson:"startDay"`
	EndDay   time.Time     `bson:"endDay"`
	StatusID int           `bson:"statusId"`
	TimeInS  string        `bson:"time_In_S"`
	TimeOutS string        `bson:"time_Out_S"`
	TimeInC  string        `bson:"time_In_C"`
	TimeOutC string        `bson:"time_Out_C"`
}

type scheduleDoc struct {
	ID            bson.ObjectID `bson:"_id"`
	UserID        string        `bson:"userID"`
	Date          time.Time     `bson:"date"`
	OnCallSession string        `bson:"onCallSession"`
	Attendance    bool          `bson:"attendance"`
	CheckInTime   *time.Time    `bson:"checkinTime,omitempty"`
	CheckOutTime  *time.Time    `bson:"checkoutTime,omitempty"`
}

type userDoc struct {
	ID       string `bson:"_id"`
	FullName string `bson:"fullName"`
}

// MongoRepository reads the scheduling collections of the document store.
type MongoRepository struct {
	windows   *mongo.Collection
	schedules *mongo.Collection
	users     *mongo.Collection
}

// NewMongoRepository binds to the collections in db.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		windows:   db.Collection(CollectionWindows),
		schedules: db.Collection(CollectionSchedules),
		users:     db.Collection(CollectionUsers),
	}
}

// FindOpenWindow returns the open window covering day's calendar date.
func (r *MongoRepository) FindOpenWindow(ctx context.Context, day time.Time) (*OpenWindow, error) {
	date := CalendarDate(day)
	filter := bson.M{
		"startDay": bson.M{"$lte": date},
		"endDay":   bson.M{"$gte": date},
		"statusId": OpenStatusID,
	}
	var doc windowDoc
	err := r.windows.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "startDay", Value: -1}})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &OpenWindow{
		ID:           doc.ID.Hex(),
		StartDay:     doc.StartDay,
		EndDay:       doc.EndDay,
		StatusID:     doc.StatusID,
		MorningIn:    doc.TimeInS,
		MorningOut:   doc.TimeOutS,
		AfternoonIn:  doc.TimeInC,
		AfternoonOut: doc.TimeOutC,
	}, nil
}

// FindSchedule returns the user's record for day's calendar date and the session.
// Dates are stored as midnight UTC of the local date.
func (r *MongoRepository) FindSchedule(ctx context.Context, userID string, day time.Time, s Session) (*ScheduleRecord, error) {
	date := CalendarDate(day)
	filter := bson.M{
		"userID":        userID,
		"date":          bson.M{"$gte": date, "$lt": date.AddDate(0, 0, 1)},
		"onCallSession": string(s),
	}
	var doc scheduleDoc
	if err := r.schedules.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &ScheduleRecord{
		ID:           doc.ID.Hex(),
		UserID:       doc.UserID,
		Date:         doc.Date,
		Session:      Session(doc.OnCallSession),
		Attendance:   doc.Attendance,
		CheckInTime:  doc.CheckInTime,
		CheckOutTime: doc.CheckOutTime,
	}, nil
}

// MarkCheckIn sets attendance only when the stored flag is not already true.
func (r *MongoRepository) MarkCheckIn(ctx context.Context, recordID string, at time.Time) (bool, error) {
	id, err := bson.ObjectIDFromHex(recordID)
	if err != nil {
		return false, err
	}
	res, err := r.schedules.UpdateOne(ctx,
		bson.M{"_id": id, "attendance": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"attendance": true, "checkinTime": at}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// MarkCheckOut sets checkoutTime on an attended record.
func (r *MongoRepository) MarkCheckOut(ctx context.Context, recordID string, at time.Time) (bool, error) {
	id, err := bson.ObjectIDFromHex(recordID)
	if err != nil {
		return false, err
	}
	res, err := r.schedules.UpdateOne(ctx,
		bson.M{"_id": id, "attendance": true},
		bson.M{"$set": bson.M{"checkoutTime": at}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// FindUser returns a user by id.
func (r *MongoRepository) FindUser(ctx context.Context, userID string) (*User, error) {
	var doc userDoc
	err := r.users.FindOne(ctx, bson.M{"_id": userID}, options.FindOne().SetProjection(bson.M{"fullName": 1})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &User{ID: doc.ID, FullName: doc.FullName}, nil
}
