package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/changefeed"
	"care-coordination-server/internal/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)
	return db, mock
}

// recordingFeed captures published events.
type recordingFeed struct {
	events []changefeed.ChangeEvent
	err    error
}

func (f *recordingFeed) Publish(_ context.Context, evt changefeed.ChangeEvent) error {
	f.events = append(f.events, evt)
	return f.err
}

var appointmentColumns = []string{"id", "patient_id", "doctor_id", "reason", "scheduled_date", "status", "meeting_token", "version", "created_at", "updated_at"}

func TestAppointmentStoreCreatePublishesInsert(t *testing.T) {
	db, mock := newMockDB(t)
	feed := &recordingFeed{}
	s := NewAppointmentStore(db, feed, zerolog.Nop())

	mock.ExpectExec("INSERT INTO `appointments`").WillReturnResult(sqlmock.NewResult(7, 1))

	appt := &models.Appointment{
		PatientID:     "p1",
		Reason:        "Fever",
		ScheduledDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Status:        models.StatusPending,
	}
	require.NoError(t, s.Create(context.Background(), appt))

	assert.Equal(t, uint64(7), appt.ID)
	assert.Equal(t, uint64(1), appt.Version)
	require.Len(t, feed.events, 1)
	assert.Equal(t, changefeed.OpInsert, feed.events[0].Operation)
	assert.Equal(t, "7", feed.events[0].Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentStoreCreateFailureIsPersistenceError(t *testing.T) {
	db, mock := newMockDB(t)
	feed := &recordingFeed{}
	s := NewAppointmentStore(db, feed, zerolog.Nop())

	mock.ExpectExec("INSERT INTO `appointments`").WillReturnError(errors.New("connection reset"))

	err := s.Create(context.Background(), &models.Appointment{PatientID: "p1", Status: models.StatusPending})
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Empty(t, feed.events)
}

func TestAppointmentStoreApplyReReadsAndPublishes(t *testing.T) {
	db, mock := newMockDB(t)
	feed := &recordingFeed{}
	s := NewAppointmentStore(db, feed, zerolog.Nop())
	now := time.Now()

	mock.ExpectExec("UPDATE `appointments` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT \\* FROM `appointments`").WillReturnRows(
		sqlmock.NewRows(appointmentColumns).
			AddRow(7, "p1", "d1", "Fever", now, "forwarded", nil, 2, now, now))
	mock.ExpectQuery("SELECT \\* FROM `doctors`").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "email", "specialization", "created_at", "updated_at"}).
			AddRow("d1", "Asha", "asha@clinic.test", "Cardiology", now, now))

	doctorID := "d1"
	appt, err := s.Apply(context.Background(), 7, StatusChange{To: models.StatusForwarded, DoctorID: &doctorID})
	require.NoError(t, err)

	assert.Equal(t, models.StatusForwarded, appt.Status)
	assert.Equal(t, "d1", appt.AssignedDoctor())
	require.NotNil(t, appt.Doctor)
	assert.Equal(t, "asha@clinic.test", appt.Doctor.Email)
	require.Len(t, feed.events, 1)
	assert.Equal(t, changefeed.OpUpdate, feed.events[0].Operation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentStoreApplyStaleVersion(t *testing.T) {
	db, mock := newMockDB(t)
	feed := &recordingFeed{}
	s := NewAppointmentStore(db, feed, zerolog.Nop())

	mock.ExpectExec("UPDATE `appointments` SET").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.Apply(context.Background(), 7, StatusChange{To: models.StatusApproved, ExpectedVersion: 3})
	assert.ErrorIs(t, err, ErrStaleWrite)
	assert.Empty(t, feed.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentStoreApplyMissingRow(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewAppointmentStore(db, nil, zerolog.Nop())

	mock.ExpectExec("UPDATE `appointments` SET").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.Apply(context.Background(), 99, StatusChange{To: models.StatusApproved})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAppointmentStoreGetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewAppointmentStore(db, nil, zerolog.Nop())

	mock.ExpectQuery("SELECT \\* FROM `appointments`").WillReturnRows(sqlmock.NewRows(appointmentColumns))

	_, err := s.Get(context.Background(), 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmergencyStoreResolveAlreadyResolved(t *testing.T) {
	db, mock := newMockDB(t)
	feed := &recordingFeed{}
	s := NewEmergencyStore(db, feed, zerolog.Nop())
	now := time.Now()

	mock.ExpectExec("UPDATE `emergency_events` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `emergency_events`").WillReturnRows(
		sqlmock.NewRows([]string{"id", "user_id", "lat", "lng", "accuracy", "status", "resolved_at", "resolved_by", "created_at", "updated_at"}).
			AddRow("e1", "p1", 13.08, 80.27, 12.0, "resolved", now, "admin-1", now, now))

	evt, err := s.Resolve(context.Background(), "e1", "admin-2")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	require.NotNil(t, evt)
	assert.Equal(t, models.EmergencyResolved, evt.Status)
	assert.Equal(t, "admin-1", evt.ResolvedBy)
	assert.Empty(t, feed.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmergencyStoreResolveActive(t *testing.T) {
	db, mock := newMockDB(t)
	feed := &recordingFeed{}
	s := NewEmergencyStore(db, feed, zerolog.Nop())
	now := time.Now()

	mock.ExpectExec("UPDATE `emergency_events` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT \\* FROM `emergency_events`").WillReturnRows(
		sqlmock.NewRows([]string{"id", "user_id", "lat", "lng", "accuracy", "status", "resolved_at", "resolved_by", "created_at", "updated_at"}).
			AddRow("e1", "p1", 13.08, 80.27, 12.0, "resolved", now, "admin-1", now, now))

	evt, err := s.Resolve(context.Background(), "e1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyResolved, evt.Status)
	require.Len(t, feed.events, 1)
	assert.Equal(t, changefeed.EmergencyEvents, feed.events[0].Collection)
}

func TestUserStoreEmergencyContact(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewUserStore(db, zerolog.Nop())
	now := time.Now()
	cols := userColumns

	mock.ExpectQuery("SELECT \\* FROM `users`").WillReturnRows(
		sqlmock.NewRows(cols).AddRow("p1", "p1@mail.test", "x", "Priya", "R", "patient", "", " 919876543210 ", now, now))
	mock.ExpectQuery("SELECT \\* FROM `users`").WillReturnRows(
		sqlmock.NewRows(cols).AddRow("p2", "p2@mail.test", "x", "Ravi", "K", "patient", "", "", now, now))
	mock.ExpectQuery("SELECT \\* FROM `users`").WillReturnRows(sqlmock.NewRows(cols))

	phone, ok, err := s.EmergencyContact(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "919876543210", phone)

	_, ok, err = s.EmergencyContact(context.Background(), "p2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.EmergencyContact(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

var userColumns = []string{"id", "email", "password", "first_name", "last_name", "role", "phone_number", "emergency_phone", "created_at", "updated_at"}

func TestDoctorStoreCreateWithAccount(t *testing.T) {
	db, mock := newMockDB(t)
	feed := &recordingFeed{}
	s := NewDoctorStore(db, feed, zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `users`").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `users`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `doctors`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	doc := &models.Doctor{Name: "Asha", Email: "asha@clinic.test", Specialization: "Cardiology"}
	account := &models.User{Email: "asha@clinic.test", FirstName: "Asha", Role: models.RoleDoctor}
	require.NoError(t, s.CreateWithAccount(context.Background(), doc, account))

	assert.NotEmpty(t, doc.ID)
	assert.NotEmpty(t, account.ID)
	require.Len(t, feed.events, 1)
	assert.Equal(t, changefeed.Doctors, feed.events[0].Collection)
	assert.Equal(t, changefeed.OpInsert, feed.events[0].Operation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDoctorStoreCreateWithAccountEmailTaken(t *testing.T) {
	db, mock := newMockDB(t)
	feed := &recordingFeed{}
	s := NewDoctorStore(db, feed, zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `users`").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := s.CreateWithAccount(context.Background(),
		&models.Doctor{Name: "Asha", Email: "asha@clinic.test"},
		&models.User{Email: "asha@clinic.test", Role: models.RoleDoctor})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Empty(t, feed.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDoctorStoreCreateWithAccountRollsBackOnDoctorInsert(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewDoctorStore(db, nil, zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `users`").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `users`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `doctors`").WillReturnError(errors.New("duplicate entry"))
	mock.ExpectRollback()

	err := s.CreateWithAccount(context.Background(),
		&models.Doctor{Name: "Asha", Email: "asha@clinic.test"},
		&models.User{Email: "asha@clinic.test", Role: models.RoleDoctor})
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStoreEnsureAccount(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewUserStore(db, zerolog.Nop())
	now := time.Now()

	mock.ExpectQuery("SELECT \\* FROM `users`").WillReturnRows(sqlmock.NewRows(userColumns))
	mock.ExpectExec("INSERT INTO `users`").WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := s.EnsureAccount(context.Background(), &models.User{Email: "root@clinic.test", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.True(t, created)

	mock.ExpectQuery("SELECT \\* FROM `users`").WillReturnRows(
		sqlmock.NewRows(userColumns).AddRow("a1", "root@clinic.test", "x", "Root", "", "admin", "", "", now, now))

	created, err = s.EnsureAccount(context.Background(), &models.User{Email: "root@clinic.test", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}
