package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

// StudentRepository reads student records. Admission and provisioning
// live in an external collaborator; the engine only needs lookups.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, student_no, full_name, email, college_id, major_id, enrolled_year, active, created_at`

// FindByID returns a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByStudentNo returns a student by their unique student number.
func (r *StudentRepository) FindByStudentNo(ctx context.Context, studentNo string) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE student_no = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, studentNo); err != nil {
		return nil, err
	}
	return &student, nil
}
