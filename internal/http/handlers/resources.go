package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/go-classbook/internal/clients"
	apierrors "github.com/pribylovaa/go-classbook/internal/errors"
	"github.com/pribylovaa/go-classbook/internal/models"
)

// Resource — набор страниц одного ресурса для регистрации в роутере.
type Resource interface {
	Base() string
	List(w http.ResponseWriter, r *http.Request)
	Create(w http.ResponseWriter, r *http.Request)
	Delete(w http.ResponseWriter, r *http.Request)
}

// resourcePages — список/создание/удаление поверх clients.Collection.
type resourcePages[T models.Identifiable] struct {
	h      *Handlers
	name   string
	title  string
	base   string
	col    *clients.Collection[T]
	fields []string
	parse  func(f map[string]string) (T, error)

	// list переопределяет получение списка (фильтры из query).
	list func(ctx context.Context, r *http.Request, p *page) ([]T, error)
	// related заполняет связанные справочники; cached — без запросов.
	related func(ctx context.Context, p *page, cached bool) error
}

func (rp *resourcePages[T]) Base() string { return rp.base }

func (rp *resourcePages[T]) List(w http.ResponseWriter, r *http.Request) {
	p := rp.h.newPage(r, rp.title)

	var items []T
	var err error
	if rp.list != nil {
		items, err = rp.list(r.Context(), r, p)
	} else {
		items, err = rp.col.List(r.Context())
	}
	if err == nil && rp.related != nil {
		err = rp.related(r.Context(), p, false)
	}
	if err != nil {
		rp.h.fail(w, r, rp.name, p, err)
		return
	}

	p.Items = items
	rp.h.render(w, r, http.StatusOK, rp.name, p)
}

func (rp *resourcePages[T]) Create(w http.ResponseWriter, r *http.Request) {
	f := form(r, rp.fields...)

	in, err := rp.parse(f)
	if err == nil {
		_, err = rp.col.Create(r.Context(), in)
	}
	if err != nil {
		p := rp.h.newPage(r, rp.title)
		p.Form = f
		p.Items = rp.col.Cached()
		if rp.related != nil {
			_ = rp.related(r.Context(), p, true)
		}
		rp.h.fail(w, r, rp.name, p, err)
		return
	}

	seeOther(w, r, rp.base)
}

func (rp *resourcePages[T]) Delete(w http.ResponseWriter, r *http.Request) {
	if err := rp.col.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		p := rp.h.newPage(r, rp.title)
		p.Items = rp.col.Cached()
		if rp.related != nil {
			_ = rp.related(r.Context(), p, true)
		}
		rp.h.fail(w, r, rp.name, p, err)
		return
	}

	seeOther(w, r, rp.base)
}

// Resources — страницы всех ресурсов, кроме переключения задачи.
func (h *Handlers) Resources() []Resource {
	cl := h.Clients

	return []Resource{
		&resourcePages[models.Task]{
			h: h, name: "tasks", title: "Tasks", base: "/tasks", col: cl.Tasks.Collection,
			fields: []string{"title", "description", "priority", "due_date", "todo_list_id"},
			parse:  parseTask,
			list: func(ctx context.Context, r *http.Request, p *page) ([]models.Task, error) {
				p.ListID = r.URL.Query().Get("todo_list")
				if p.ListID != "" {
					return cl.Tasks.ByTodoList(ctx, p.ListID)
				}
				return cl.Tasks.List(ctx)
			},
			related: func(ctx context.Context, p *page, cached bool) error {
				if cached {
					p.Lists = cl.TodoLists.Cached()
					return nil
				}
				var err error
				p.Lists, err = cl.TodoLists.List(ctx)
				return err
			},
		},
		&resourcePages[models.Class]{
			h: h, name: "classes", title: "Classes", base: "/classes", col: cl.Classes.Collection,
			fields: []string{"name", "subject", "grade_level"},
			parse: func(f map[string]string) (models.Class, error) {
				return models.Class{Name: f["name"], Subject: f["subject"], GradeLevel: f["grade_level"]}, nil
			},
		},
		&resourcePages[models.Student]{
			h: h, name: "students", title: "Students", base: "/students", col: cl.Students.Collection,
			fields: []string{"first_name", "last_name", "student_id", "class_id"},
			parse: func(f map[string]string) (models.Student, error) {
				return models.Student{
					FirstName: f["first_name"],
					LastName:  f["last_name"],
					StudentID: f["student_id"],
					ClassID:   f["class_id"],
				}, nil
			},
			related: func(ctx context.Context, p *page, cached bool) error {
				if cached {
					p.Classes = cl.Classes.Cached()
					return nil
				}
				var err error
				p.Classes, err = cl.Classes.List(ctx)
				return err
			},
		},
		&resourcePages[models.Subject]{
			h: h, name: "subjects", title: "Subjects", base: "/subjects", col: cl.Subjects.Collection,
			fields: []string{"name", "code", "description"},
			parse: func(f map[string]string) (models.Subject, error) {
				return models.Subject{Name: f["name"], Code: f["code"], Description: f["description"]}, nil
			},
		},
		&resourcePages[models.Result]{
			h: h, name: "results", title: "Results", base: "/results", col: cl.Results.Collection,
			fields:  []string{"student_id", "subject_id", "score", "grade", "assignment_name"},
			parse:   parseResult,
			related: h.studentsAndSubjects,
		},
		&resourcePages[models.TodoList]{
			h: h, name: "todo_lists", title: "Todo lists", base: "/todo-lists", col: cl.TodoLists.Collection,
			fields: []string{"title", "description", "is_public"},
			parse: func(f map[string]string) (models.TodoList, error) {
				return models.TodoList{Title: f["title"], Description: f["description"], IsPublic: f["is_public"] != ""}, nil
			},
		},
		&resourcePages[models.Planning]{
			h: h, name: "plannings", title: "Plannings", base: "/plannings", col: cl.Plannings.Collection,
			fields:  []string{"title", "description", "class_id", "subject_id", "date"},
			parse:   parsePlanning,
			related: h.classesAndSubjects,
		},
	}
}

// ToggleTask переключает completed и возвращает на список задач.
func (h *Handlers) ToggleTask(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Clients.Tasks.Toggle(r.Context(), chi.URLParam(r, "id")); err != nil {
		p := h.newPage(r, "Tasks")
		p.Items = h.Clients.Tasks.Cached()
		p.Lists = h.Clients.TodoLists.Cached()
		h.fail(w, r, "tasks", p, err)
		return
	}

	target := "/tasks"
	if list := r.PostFormValue("todo_list"); list != "" {
		target += "?todo_list=" + url.QueryEscape(list)
	}
	seeOther(w, r, target)
}

func (h *Handlers) studentsAndSubjects(ctx context.Context, p *page, cached bool) error {
	if cached {
		p.Students = h.Clients.Students.Cached()
		p.Subjects = h.Clients.Subjects.Cached()
		return nil
	}

	var err error
	if p.Students, err = h.Clients.Students.List(ctx); err != nil {
		return err
	}
	p.Subjects, err = h.Clients.Subjects.List(ctx)
	return err
}

func (h *Handlers) classesAndSubjects(ctx context.Context, p *page, cached bool) error {
	if cached {
		p.Classes = h.Clients.Classes.Cached()
		p.Subjects = h.Clients.Subjects.Cached()
		return nil
	}

	var err error
	if p.Classes, err = h.Clients.Classes.List(ctx); err != nil {
		return err
	}
	p.Subjects, err = h.Clients.Subjects.List(ctx)
	return err
}

func parseTask(f map[string]string) (models.Task, error) {
	t := models.Task{
		Title:       f["title"],
		Description: f["description"],
		Priority:    f["priority"],
		TodoListID:  f["todo_list_id"],
	}

	due, err := parseDate(f["due_date"], "due_date")
	if err != nil {
		return t, err
	}
	t.DueDate = due

	return t, nil
}

func parseResult(f map[string]string) (models.Result, error) {
	res := models.Result{
		StudentID:      f["student_id"],
		SubjectID:      f["subject_id"],
		Grade:          f["grade"],
		AssignmentName: f["assignment_name"],
	}

	if f["score"] == "" {
		return res, apierrors.Validation("score is required")
	}

	score, err := strconv.ParseFloat(f["score"], 64)
	if err != nil {
		return res, apierrors.Validation("score must be a number")
	}
	res.Score = score

	return res, nil
}

func parsePlanning(f map[string]string) (models.Planning, error) {
	p := models.Planning{
		Title:       f["title"],
		Description: f["description"],
		ClassID:     f["class_id"],
		SubjectID:   f["subject_id"],
	}

	d, err := parseDate(f["date"], "date")
	if err != nil {
		return p, err
	}
	p.Date = d

	return p, nil
}

func parseDate(v, field string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}

	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, apierrors.Validation(field + " must be a date (YYYY-MM-DD)")
	}

	return &t, nil
}
