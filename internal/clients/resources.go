package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pribylovaa/go-classbook/internal/client"
	"github.com/pribylovaa/go-classbook/internal/models"
)

// Unknown — подпись для ссылки, которую не удалось разрешить.
const Unknown = "Unknown"

const (
	PathTasks     = "/api/v1/tasks"
	PathClasses   = "/api/v1/classes"
	PathStudents  = "/api/v1/students"
	PathSubjects  = "/api/v1/subjects"
	PathResults   = "/api/v1/results"
	PathTodoLists = "/api/v1/todo-lists"
	PathPlannings = "/api/v1/plannings"
)

type Tasks struct {
	*Collection[models.Task]
}

// Toggle переключает completed на сервере и кладёт в кэш серверную копию.
func (t *Tasks) Toggle(ctx context.Context, id string) (models.Task, error) {
	const op = "clients.Tasks.Toggle"

	var task models.Task
	err := t.doer.Do(ctx, client.Request{
		Method: http.MethodPatch,
		Path:   t.itemPath(id) + "/toggle",
		Route:  t.path + "/{id}/toggle",
	}, &task)
	if err != nil {
		return models.Task{}, fmt.Errorf("%s: %w", op, err)
	}

	t.commit(ctx, func() { t.replace(id, task) })

	return task, nil
}

// ByTodoList — задачи одного списка; общий кэш задач не трогает.
func (t *Tasks) ByTodoList(ctx context.Context, listID string) ([]models.Task, error) {
	const op = "clients.Tasks.ByTodoList"

	var tasks []models.Task
	err := t.doer.Do(ctx, client.Request{
		Method: http.MethodGet,
		Path:   t.path + "/todo-lists/" + url.PathEscape(listID),
		Route:  t.path + "/todo-lists/{id}",
	}, &tasks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return tasks, nil
}

type Classes struct {
	*Collection[models.Class]
}

type Students struct {
	*Collection[models.Student]
}

type Subjects struct {
	*Collection[models.Subject]
}

type Results struct {
	*Collection[models.Result]
}

type TodoLists struct {
	*Collection[models.TodoList]
}

type Plannings struct {
	*Collection[models.Planning]
}

// ClassName — имя класса по id или Unknown.
func ClassName(classes []models.Class, id string) string {
	for _, c := range classes {
		if c.ID == id {
			return c.Name
		}
	}

	return Unknown
}

// StudentName — "Имя Фамилия" ученика по id или Unknown.
func StudentName(students []models.Student, id string) string {
	for _, s := range students {
		if s.ID == id {
			return s.FullName()
		}
	}

	return Unknown
}

// SubjectName — название предмета по id или Unknown.
func SubjectName(subjects []models.Subject, id string) string {
	for _, s := range subjects {
		if s.ID == id {
			return s.Name
		}
	}

	return Unknown
}
