package middleware

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/zhouzirui/persona-lab/backend/pkg/utils"
)

// CORS 返回跨域中间件；origins 为空或包含 "*" 时允许任意来源。
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", utils.ProviderKeyHeader},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})
	return c.Handler
}
