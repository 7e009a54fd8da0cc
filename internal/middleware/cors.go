// Package middleware provides HTTP middleware for the chat API.
package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// ConversationIDHeader carries the server-assigned conversation identifier.
const ConversationIDHeader = "X-Conversation-Id"

// CORS returns middleware that handles CORS headers. The conversation ID
// header is exposed so the browser widget can read it cross-origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			break
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{ConversationIDHeader},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	})
}
