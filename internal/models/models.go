// Package models — сущности REST-бэкенда в том виде, в каком их видит клиент.
package models

import "time"

// Credentials — transient, никогда не логируется.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse — ответ login/register.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// DisplayName — имя для шапки портала.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	default:
		return u.Email
	}
}

type Task struct {
	ID          string     `json:"id,omitempty"`
	UserID      string     `json:"user_id,omitempty"`
	TodoListID  string     `json:"todo_list_id,omitempty"`
	Title       string     `json:"title" validate:"required,max=255"`
	Description string     `json:"description,omitempty" validate:"max=10000"`
	Completed   bool       `json:"completed"`
	Priority    string     `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

type Class struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name" validate:"required"`
	Subject    string `json:"subject,omitempty"`
	GradeLevel string `json:"grade_level,omitempty"`
	TeacherID  string `json:"teacher_id,omitempty"`
}

type Student struct {
	ID        string `json:"id,omitempty"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	StudentID string `json:"student_id,omitempty"`
	ClassID   string `json:"class_id,omitempty"`
}

// FullName — "Имя Фамилия".
func (s Student) FullName() string { return s.FirstName + " " + s.LastName }

type Subject struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name" validate:"required"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

type Result struct {
	ID             string  `json:"id,omitempty"`
	StudentID      string  `json:"student_id" validate:"required"`
	SubjectID      string  `json:"subject_id" validate:"required"`
	Score          float64 `json:"score" validate:"gte=0,lte=100"`
	Grade          string  `json:"grade,omitempty"`
	AssignmentName string  `json:"assignment_name,omitempty"`
}

type TodoList struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description,omitempty"`
	IsPublic    bool      `json:"is_public"`
	UserID      string    `json:"user_id,omitempty"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Planning struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title" validate:"required"`
	Description string     `json:"description,omitempty"`
	ClassID     string     `json:"class_id,omitempty"`
	SubjectID   string     `json:"subject_id,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

// Identifiable — сущность с серверным id.
type Identifiable interface {
	GetID() string
}

func (t Task) GetID() string     { return t.ID }
func (c Class) GetID() string    { return c.ID }
func (s Student) GetID() string  { return s.ID }
func (s Subject) GetID() string  { return s.ID }
func (r Result) GetID() string   { return r.ID }
func (l TodoList) GetID() string { return l.ID }
func (p Planning) GetID() string { return p.ID }
