package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/models"
	"care-coordination-server/internal/store"
)

// memRepo is an in-memory Repository that mimics the gorm store: Apply is a
// single guarded update followed by a re-read with the doctor preloaded.
type memRepo struct {
	mu      sync.Mutex
	nextID  uint64
	rows    map[uint64]models.Appointment
	doctors *memDoctors

	// beforeApply runs once, just before the next Apply takes effect.
	beforeApply func(r *memRepo)
	applyErr    error
	applyCalls  int
}

func newMemRepo(doctors *memDoctors) *memRepo {
	return &memRepo{nextID: 7, rows: map[uint64]models.Appointment{}, doctors: doctors}
}

func (r *memRepo) Create(_ context.Context, appt *models.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt.ID = r.nextID
	r.nextID++
	appt.Version = 1
	r.rows[appt.ID] = *appt
	return nil
}

func (r *memRepo) Get(_ context.Context, id uint64) (*models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(id)
}

func (r *memRepo) load(id uint64) (*models.Appointment, error) {
	row, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("appointment %d: %w", id, apperr.ErrNotFound)
	}
	row.Doctor = nil
	if row.DoctorID != nil {
		if doc, ok := r.doctors.byID[*row.DoctorID]; ok {
			d := doc
			row.Doctor = &d
		}
	}
	return &row, nil
}

func (r *memRepo) Apply(_ context.Context, id uint64, change store.StatusChange) (*models.Appointment, error) {
	if hook := r.beforeApply; hook != nil {
		r.beforeApply = nil
		hook(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyCalls++
	if r.applyErr != nil {
		return nil, r.applyErr
	}
	row, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("appointment %d: %w", id, apperr.ErrNotFound)
	}
	if change.ExpectedVersion > 0 && row.Version != change.ExpectedVersion {
		return nil, fmt.Errorf("appointment %d: %w", id, store.ErrStaleWrite)
	}
	row.Status = change.To
	row.Version++
	if change.DoctorID != nil {
		v := *change.DoctorID
		row.DoctorID = &v
	}
	if change.MeetingToken != nil {
		v := *change.MeetingToken
		row.MeetingToken = &v
	}
	r.rows[id] = row
	return r.load(id)
}

// put stores a row as-is, bypassing the state machine.
func (r *memRepo) put(row models.Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row.Version == 0 {
		row.Version = 1
	}
	r.rows[row.ID] = row
}

func (r *memRepo) list(keep func(models.Appointment) bool) []models.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	out := []models.Appointment{}
	for _, id := range ids {
		row, _ := r.load(id)
		if keep(*row) {
			out = append(out, *row)
		}
	}
	return out
}

func (r *memRepo) ListByPatient(_ context.Context, patientID string) ([]models.Appointment, error) {
	return r.list(func(a models.Appointment) bool { return a.PatientID == patientID }), nil
}

func (r *memRepo) ListByDoctor(_ context.Context, doctorID string) ([]models.Appointment, error) {
	return r.list(func(a models.Appointment) bool {
		return a.AssignedDoctor() == doctorID && a.Status != models.StatusRejected
	}), nil
}

func (r *memRepo) ListOpen(_ context.Context) ([]models.Appointment, error) {
	return r.list(func(a models.Appointment) bool { return a.Status != models.StatusConfirmed }), nil
}

type memDoctors struct {
	byID map[string]models.Doctor
}

func newMemDoctors(docs ...models.Doctor) *memDoctors {
	m := &memDoctors{byID: map[string]models.Doctor{}}
	for _, d := range docs {
		m.byID[d.ID] = d
	}
	return m
}

func (m *memDoctors) Get(_ context.Context, id string) (*models.Doctor, error) {
	doc, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("doctor %s: %w", id, apperr.ErrNotFound)
	}
	return &doc, nil
}

func (m *memDoctors) GetByEmail(_ context.Context, email string) (*models.Doctor, error) {
	for _, doc := range m.byID {
		if doc.OwnedBy(email) {
			d := doc
			return &d, nil
		}
	}
	return nil, fmt.Errorf("doctor %s: %w", email, apperr.ErrNotFound)
}
