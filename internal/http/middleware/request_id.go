package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/pribylovaa/go-classbook/internal/client"
)

// RequestID обеспечивает наличие X-Request-Id:
//  1. читает заголовок X-Request-Id, если есть;
//  2. иначе генерирует hex id (32 символа);
//  3. кладёт id в заголовки ответа/запроса и в контекст, откуда его берёт
//     SessionClient для исходящих вызовов к бэкенду.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" || len(id) > 128 {
				id = genID()
				r.Header.Set("X-Request-Id", id)
			}
			w.Header().Set("X-Request-Id", id)

			next.ServeHTTP(w, r.WithContext(client.WithRequestID(r.Context(), id)))
		})
	}
}

func genID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
