package api

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed docs/swagger.yaml
var swaggerFS embed.FS

// registerSwaggerRoutes serves the hand-maintained OpenAPI description for
// the endpoints in this package, the same embed-and-serve approach the
// teacher uses rather than checking in swag-generated output.
func registerSwaggerRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger.yaml")
	})

	router.GET("/swagger.yaml", func(c *gin.Context) {
		data, err := swaggerFS.ReadFile("docs/swagger.yaml")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read swagger file"})
			return
		}
		c.Data(http.StatusOK, "application/yaml", data)
	})

	sub, err := fs.Sub(swaggerFS, "docs")
	if err == nil {
		router.StaticFS("/swagger-assets", http.FS(sub))
	}
}
