// errors — таксономия ошибок обмена с REST-бэкендом и их HTTP-представление
// для портала.
//
// Классы:
//   - KindValidation — отказ по входным данным (400/409/422 или локальная проверка);
//   - KindAuth — нет/истёк/отклонён токен (401 или локальный fail-fast);
//   - KindNotFound — 404;
//   - KindTransient — таймаут, сеть, 502/503/504;
//   - KindHTTP — прочие статусы;
//   - KindInternal — ошибки клиента (кодирование, неверный вызов).
//
// Message для пользователя берётся из поля detail ответа сервера, если оно есть.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "unauthenticated"
	KindNotFound   Kind = "not_found"
	KindTransient  Kind = "transient"
	KindHTTP       Kind = "http"
	KindInternal   Kind = "internal"
)

// Error — ошибка обмена с бэкендом.
type Error struct {
	Kind    Kind
	Status  int    // HTTP-статус ответа; 0, если ответа не было.
	Message string // безопасное сообщение (detail сервера или локальное).
	Op      string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}

	b.WriteString(string(e.Kind))

	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New — ошибка заданного класса без статуса.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Validation — локальная ошибка валидации.
func Validation(msg string) *Error { return New(KindValidation, msg) }

// FromStatus классифицирует не-2xx ответ.
func FromStatus(status int, detail string) *Error {
	e := &Error{Status: status, Message: detail}

	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusBadRequest,
		status == http.StatusConflict,
		status == http.StatusUnprocessableEntity:
		e.Kind = KindValidation
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		e.Kind = KindTransient
	default:
		e.Kind = KindHTTP
	}

	return e
}

// Transient оборачивает сетевую ошибку/таймаут.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// KindOf возвращает класс ошибки; для "чужих" ошибок — KindInternal,
// для отмены/дедлайна контекста — KindTransient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}

	return KindInternal
}

func IsAuth(err error) bool       { return KindOf(err) == KindAuth }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsTransient(err error) bool  { return KindOf(err) == KindTransient }

// StatusOf возвращает HTTP-статус ответа бэкенда (0, если его не было).
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}

	return 0
}

// Message — сообщение, которое можно показать пользователю.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}

	switch KindOf(err) {
	case KindAuth:
		return "Your session has expired. Please log in again."
	case KindNotFound:
		return "The requested item was not found."
	case KindTransient:
		return "The server is not responding. Please try again."
	case KindValidation:
		return "Invalid input."
	default:
		return "Something went wrong. Please try again."
	}
}

// ParseDetail достаёт человекочитаемое сообщение из тела ошибки.
// Понимает {"detail": "..."}, {"detail": [{"msg": "..."}]}, {"message": "..."}
// и конверт портала {"error": {"message": "..."}}.
func ParseDetail(body []byte) string {
	var raw struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   *APIError       `json:"error"`
	}

	if err := json.Unmarshal(body, &raw); err != nil {
		return ""
	}

	if len(raw.Detail) > 0 {
		var s string
		if err := json.Unmarshal(raw.Detail, &s); err == nil {
			return s
		}

		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(raw.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}

	if raw.Message != "" {
		return raw.Message
	}

	if raw.Error != nil {
		return raw.Error.Message
	}

	return ""
}

// APIError — единый формат ошибки в JSON-ответах портала.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ToHTTP конвертирует ошибку в HTTP-статус портала и тело ответа.
// err == nil — программная ошибка вызова: 500/internal.
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return http.StatusInternalServerError, ErrorResponse{Error: APIError{Code: "internal", Message: "internal error"}}
	}

	if errors.Is(err, context.Canceled) {
		return StatusClientClosedRequest, ErrorResponse{Error: APIError{Code: "canceled", Message: "canceled"}}
	}

	var status int
	var code string

	switch KindOf(err) {
	case KindValidation:
		status, code = http.StatusBadRequest, "invalid_argument"
		if s := StatusOf(err); s == http.StatusConflict || s == http.StatusUnprocessableEntity {
			status = s
		}
	case KindAuth:
		status, code = http.StatusUnauthorized, "unauthenticated"
	case KindNotFound:
		status, code = http.StatusNotFound, "not_found"
	case KindTransient:
		status, code = http.StatusServiceUnavailable, "unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			status, code = http.StatusGatewayTimeout, "deadline_exceeded"
		}
	case KindHTTP:
		status, code = http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: APIError{Code: "internal", Message: "internal error"}}
	}

	return status, ErrorResponse{Error: APIError{Code: code, Message: Message(err)}}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
