package actions

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrInvalidEmail = errors.New("invalid email")
	ErrInvalidTime  = errors.New("invalid demo time")
	ErrSlotTaken    = errors.New("demo slot already booked")
)

// Layouts accepted for the requested demo time, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05 MST",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04 MST",
	"2006-01-02T15:04:05",
}

const bookingPrefix = "booking/"

// Scheduler books demo meetings and keeps them in badger. Without a
// directory the store lives in memory for the lifetime of the process.
type Scheduler struct {
	db  *badger.DB
	now func() time.Time
}

type SchedulerOptions struct {
	Dir string
	Now func() time.Time
}

type SchedulerOption func(*SchedulerOptions)

func WithDir(dir string) SchedulerOption {
	return func(o *SchedulerOptions) { o.Dir = dir }
}

// WithClock replaces time.Now, bookings in the past are rejected against it.
func WithClock(now func() time.Time) SchedulerOption {
	return func(o *SchedulerOptions) { o.Now = now }
}

func NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	options := SchedulerOptions{Now: time.Now}
	for _, opt := range opts {
		opt(&options)
	}

	dbOpts := badger.DefaultOptions(options.Dir).WithLogger(badgerLogger{})
	if options.Dir == "" {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open booking store: %w", err)
	}

	return &Scheduler{db: db, now: options.Now}, nil
}

type bookingRecord struct {
	ID       string    `msgpack:"id"`
	Email    string    `msgpack:"email"`
	Time     time.Time `msgpack:"time"`
	BookedAt time.Time `msgpack:"booked_at"`
}

func (s *Scheduler) ScheduleDemo(ctx context.Context, req orchestration.DemoRequest) (orchestration.Booking, error) {
	_, span := tracer.Start(ctx, "schedule demo")
	defer span.End()

	booking, err := s.scheduleDemo(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return orchestration.Booking{}, err
	}
	span.SetAttributes(attribute.String("booking.id", booking.ID))
	logger.Info("demo booked", "id", booking.ID, "time", booking.Time)
	return booking, nil
}

func (s *Scheduler) scheduleDemo(ctx context.Context, req orchestration.DemoRequest) (orchestration.Booking, error) {
	if err := ctx.Err(); err != nil {
		return orchestration.Booking{}, err
	}

	address, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return orchestration.Booking{}, fmt.Errorf("%w %q: %w", ErrInvalidEmail, req.Email, err)
	}
	at, err := ParseDemoTime(req.Time)
	if err != nil {
		return orchestration.Booking{}, err
	}
	if !at.After(s.now()) {
		return orchestration.Booking{}, fmt.Errorf("%w: %s is in the past", ErrInvalidTime, at.Format(time.RFC3339))
	}

	record := bookingRecord{
		ID:       uuid.NewString(),
		Email:    address.Address,
		Time:     at.UTC(),
		BookedAt: s.now().UTC(),
	}
	value, err := msgpack.Marshal(record)
	if err != nil {
		return orchestration.Booking{}, fmt.Errorf("failed to encode booking: %w", err)
	}

	key := slotKey(record.Time)
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return ErrSlotTaken
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return orchestration.Booking{}, fmt.Errorf("failed to store booking: %w", err)
	}

	return record.booking(), nil
}

// Bookings lists every stored booking ordered by demo time.
func (s *Scheduler) Bookings(ctx context.Context) ([]orchestration.Booking, error) {
	var bookings []orchestration.Booking
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte(bookingPrefix)
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var record bookingRecord
			if err := msgpack.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("failed to decode booking: %w", err)
			}
			bookings = append(bookings, record.booking())
		}
		return nil
	})
	return bookings, err
}

func (s *Scheduler) Close() error {
	return s.db.Close()
}

func (r bookingRecord) booking() orchestration.Booking {
	return orchestration.Booking{ID: r.ID, Time: r.Time, Email: r.Email}
}

// slotKey sorts lexicographically by time.
func slotKey(at time.Time) []byte {
	return []byte(bookingPrefix + at.UTC().Format("20060102T150405Z"))
}

// ParseDemoTime accepts the layouts the assistant is prompted to produce.
func ParseDemoTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTime)
	}
	for _, layout := range timeLayouts {
		if at, err := time.Parse(layout, value); err == nil {
			return at, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, value)
}

// badgerLogger routes badger's own logging through slog, dropping the
// chatty levels.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
