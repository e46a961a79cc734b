// Package clients — клиенты REST-ресурсов поверх общего SessionClient.
package clients

import "github.com/pribylovaa/go-classbook/internal/models"

// Clients агрегирует клиенты всех ресурсов.
type Clients struct {
	Tasks     *Tasks
	Classes   *Classes
	Students  *Students
	Subjects  *Subjects
	Results   *Results
	TodoLists *TodoLists
	Plannings *Plannings
}

// New собирает клиенты ресурсов поверх d.
func New(d Doer) *Clients {
	return &Clients{
		Tasks:     &Tasks{NewCollection[models.Task](d, PathTasks)},
		Classes:   &Classes{NewCollection[models.Class](d, PathClasses)},
		Students:  &Students{NewCollection[models.Student](d, PathStudents)},
		Subjects:  &Subjects{NewCollection[models.Subject](d, PathSubjects)},
		Results:   &Results{NewCollection[models.Result](d, PathResults)},
		TodoLists: &TodoLists{NewCollection[models.TodoList](d, PathTodoLists)},
		Plannings: &Plannings{NewCollection[models.Planning](d, PathPlannings)},
	}
}

// Reset сбрасывает все кэши (после выхода из системы).
func (c *Clients) Reset() {
	c.Tasks.Reset()
	c.Classes.Reset()
	c.Students.Reset()
	c.Subjects.Reset()
	c.Results.Reset()
	c.TodoLists.Reset()
	c.Plannings.Reset()
}
