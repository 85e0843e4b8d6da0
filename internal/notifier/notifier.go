// Package notifier отправляет покупателям уведомления о заказах.
package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/mmeshcher/furnishop-system/internal/model"
)

// EmailNotifier отправляет подтверждения заказов по SMTP.
type EmailNotifier struct {
	addr     string
	username string
	password string
	from     string
}

// NewEmailNotifier создаёт SMTP-отправитель уведомлений.
func NewEmailNotifier(addr, username, password, from string) *EmailNotifier {
	return &EmailNotifier{
		addr:     addr,
		username: username,
		password: password,
		from:     from,
	}
}

// SendOrderConfirmation отправляет покупателю письмо с подтверждением заказа.
func (n *EmailNotifier) SendOrderConfirmation(ctx context.Context, order *model.Order) error {
	if n == nil || n.addr == "" {
		return fmt.Errorf("email notifier not configured")
	}
	if order.Email == "" {
		return fmt.Errorf("order %s has no customer email", order.ID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", order.Email)
	fmt.Fprintf(&b, "Subject: Order confirmation %s\r\n", order.ID)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Order %s\n\n", order.ID)
	for _, item := range order.Items {
		fmt.Fprintf(&b, "%s x%d: %d\n", item.Name, item.Quantity, item.Subtotal)
	}
	fmt.Fprintf(&b, "\nSubtotal: %d\nShipping: %d\nTotal: %d\n", order.Subtotal, order.ShippingFee, order.Total)
	fmt.Fprintf(&b, "Payment method: %s\n", order.PaymentMethod)

	host := n.addr
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(n.addr, auth, n.from, []string{order.Email}, []byte(b.String()))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail: %w", err)
		}
		return nil
	}
}
