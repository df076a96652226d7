package identity

import (
	"github.com/gofiber/fiber/v2"
	router "github.com/goliatone/go-router"
)

// NewHTTPServer builds a fiber backed server with the identity routes
// mounted. Callers embed it in a larger app or run it directly:
//
//	srv := identity.NewHTTPServer(controller)
//	srv.Serve(":8080")
func NewHTTPServer(controller *Controller) router.Server[*fiber.App] {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:  true,
			StrictRouting: false,
		}))
	})

	controller.RegisterRoutes(srv.Router())

	return srv
}
