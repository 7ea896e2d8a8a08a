package models

import (
	"strconv"
	"time"
)

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Learner is an enrolled pupil.
type Learner struct {
	ID              string     `json:"id" validate:"required"`
	AdmissionNumber string     `json:"admission_number" validate:"required"`
	FirstName       string     `json:"first_name" validate:"required"`
	LastName        string     `json:"last_name" validate:"required"`
	OtherNames      *string    `json:"other_names,omitempty"`
	Gender          string     `json:"gender,omitempty" validate:"omitempty,oneof=male female"`
	DateOfBirth     *string    `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	GradeID         string     `json:"grade_id" validate:"required"`
	StreamID        *string    `json:"stream_id,omitempty"`
	Status          string     `json:"status,omitempty" validate:"omitempty,oneof=active transferred graduated suspended"`
	GuardianPhone   *string    `json:"guardian_phone,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

func (*Learner) Collection() CollectionName { return CollectionLearners }
func (l *Learner) Key() string              { return l.ID }
func (l *Learner) Modified() *time.Time     { return l.UpdatedAt }
func (l *Learner) IndexValues() map[string]string {
	return map[string]string{
		"admission_number": l.AdmissionNumber,
		"grade_id":         l.GradeID,
		"stream_id":        optional(l.StreamID),
	}
}

// Grade is a curriculum level, e.g. "Grade 4".
type Grade struct {
	ID          string     `json:"id" validate:"required"`
	Name        string     `json:"name" validate:"required"`
	Level       int        `json:"level" validate:"gte=0,lte=12"`
	Description *string    `json:"description,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func (*Grade) Collection() CollectionName { return CollectionGrades }
func (g *Grade) Key() string              { return g.ID }
func (g *Grade) Modified() *time.Time     { return g.UpdatedAt }
func (g *Grade) IndexValues() map[string]string {
	return map[string]string{"level": strconv.Itoa(g.Level)}
}

// Stream is a class-section within a grade.
type Stream struct {
	ID             string     `json:"id" validate:"required"`
	GradeID        string     `json:"grade_id" validate:"required"`
	Name           string     `json:"name" validate:"required"`
	Capacity       *int       `json:"capacity,omitempty" validate:"omitempty,gt=0"`
	ClassTeacherID *string    `json:"class_teacher_id,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

func (*Stream) Collection() CollectionName { return CollectionStreams }
func (s *Stream) Key() string              { return s.ID }
func (s *Stream) Modified() *time.Time     { return s.UpdatedAt }
func (s *Stream) IndexValues() map[string]string {
	return map[string]string{"grade_id": s.GradeID}
}

// Teacher is a member of teaching staff.
type Teacher struct {
	ID          string     `json:"id" validate:"required"`
	StaffNumber string     `json:"staff_number" validate:"required"`
	FirstName   string     `json:"first_name" validate:"required"`
	LastName    string     `json:"last_name" validate:"required"`
	Email       *string    `json:"email,omitempty" validate:"omitempty,email"`
	Phone       *string    `json:"phone,omitempty"`
	TSCNumber   *string    `json:"tsc_number,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func (*Teacher) Collection() CollectionName { return CollectionTeachers }
func (t *Teacher) Key() string              { return t.ID }
func (t *Teacher) Modified() *time.Time     { return t.UpdatedAt }
func (t *Teacher) IndexValues() map[string]string {
	return map[string]string{"staff_number": t.StaffNumber}
}

// FeePayment is one recorded payment towards a learner's fees.
type FeePayment struct {
	ID           string     `json:"id" validate:"required"`
	LearnerID    string     `json:"learner_id" validate:"required"`
	Amount       float64    `json:"amount" validate:"gt=0"`
	PaymentDate  string     `json:"payment_date" validate:"required,datetime=2006-01-02"`
	Method       string     `json:"method" validate:"required,oneof=cash mpesa bank cheque"`
	Reference    *string    `json:"reference,omitempty"`
	AcademicYear int        `json:"academic_year" validate:"gte=2000,lte=2100"`
	Term         int        `json:"term" validate:"min=1,max=3"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

func (*FeePayment) Collection() CollectionName { return CollectionFeePayments }
func (p *FeePayment) Key() string              { return p.ID }
func (p *FeePayment) Modified() *time.Time     { return p.UpdatedAt }
func (p *FeePayment) IndexValues() map[string]string {
	return map[string]string{
		"learner_id":   p.LearnerID,
		"payment_date": p.PaymentDate,
	}
}

// FeeBalance is the outstanding fee position of a learner for a term.
type FeeBalance struct {
	ID           string     `json:"id" validate:"required"`
	LearnerID    string     `json:"learner_id" validate:"required"`
	AcademicYear int        `json:"academic_year" validate:"gte=2000,lte=2100"`
	Term         int        `json:"term" validate:"min=1,max=3"`
	TotalFees    float64    `json:"total_fees" validate:"gte=0"`
	AmountPaid   float64    `json:"amount_paid" validate:"gte=0"`
	Balance      float64    `json:"balance"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

func (*FeeBalance) Collection() CollectionName { return CollectionFeeBalances }
func (b *FeeBalance) Key() string              { return b.ID }
func (b *FeeBalance) Modified() *time.Time     { return b.UpdatedAt }
func (b *FeeBalance) IndexValues() map[string]string {
	return map[string]string{"learner_id": b.LearnerID}
}

// PerformanceRecord is an assessment result for one learner and subject.
type PerformanceRecord struct {
	ID               string     `json:"id" validate:"required"`
	LearnerID        string     `json:"learner_id" validate:"required"`
	GradeID          string     `json:"grade_id" validate:"required"`
	SubjectID        string     `json:"subject_id" validate:"required"`
	AcademicYear     int        `json:"academic_year" validate:"gte=2000,lte=2100"`
	Term             int        `json:"term" validate:"min=1,max=3"`
	Score            *float64   `json:"score,omitempty" validate:"omitempty,gte=0,lte=100"`
	PerformanceLevel string     `json:"performance_level,omitempty" validate:"omitempty,oneof=EE ME AE BE"`
	Remarks          *string    `json:"remarks,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

func (*PerformanceRecord) Collection() CollectionName { return CollectionPerformanceRecords }
func (p *PerformanceRecord) Key() string              { return p.ID }
func (p *PerformanceRecord) Modified() *time.Time     { return p.UpdatedAt }
func (p *PerformanceRecord) IndexValues() map[string]string {
	return map[string]string{
		"learner_id": p.LearnerID,
		"grade_id":   p.GradeID,
	}
}

// AlumniRecord describes a former learner.
type AlumniRecord struct {
	ID              string     `json:"id" validate:"required"`
	LearnerID       *string    `json:"learner_id,omitempty"`
	FullName        string     `json:"full_name" validate:"required"`
	AdmissionNumber *string    `json:"admission_number,omitempty"`
	GraduationYear  int        `json:"graduation_year" validate:"gte=1900,lte=2100"`
	Contact         *string    `json:"contact,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

func (*AlumniRecord) Collection() CollectionName { return CollectionAlumni }
func (a *AlumniRecord) Key() string              { return a.ID }
func (a *AlumniRecord) Modified() *time.Time     { return a.UpdatedAt }
func (a *AlumniRecord) IndexValues() map[string]string {
	return map[string]string{"graduation_year": strconv.Itoa(a.GraduationYear)}
}
