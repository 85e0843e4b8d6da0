package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/furnishop-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware магазина.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/customer/register", h.Register)
		r.Post("/customer/login", h.Login)
		r.Post("/customer/logout", h.Logout)

		r.Post("/place-order", h.PlaceOrder)
		r.Get("/orders/{order_id}", h.GetOrder)
		r.Post("/process-card-payment", h.ProcessCardPayment)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/orders", h.ListOrders)
		})

		r.Route("/web3", func(r chi.Router) {
			r.Get("/payment-info", h.PaymentInfo)
			r.Post("/payment-info", h.PaymentInfo)
			r.Post("/submit-payment", h.SubmitPayment)
			r.Post("/verify-payment", h.VerifyPayment)
			r.Get("/check-status/{tx_hash}", h.CheckTxStatus)
			r.Get("/usdt-rate", h.GetRate)
			r.Get("/network-info/{chain_id}", h.GetNetworkInfo)
		})
	})

	r.Get("/order-success", h.OrderSuccess)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/order/{order_id}/cancel", h.CancelOrder)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(custommiddleware.AdminMiddleware(h.adminToken))

		r.Post("/orders/{order_id}/update-status", h.UpdateOrderStatus)
	})

	r.Post("/webhook/payment-notification", h.PaymentWebhook)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
