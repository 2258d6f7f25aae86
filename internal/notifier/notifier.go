// Package notifier handles the fire-and-forget side effects of a booking
// change: the manage link with its QR code and the event stream. Nothing
// here may fail a booking; errors are logged and dropped.
package notifier

import (
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"

	"studio-booking/internal/logger"
	"studio-booking/internal/models"
)

// EventPublisher is the subset of the Kafka producer the notifier needs.
type EventPublisher interface {
	PublishBookingConfirmed(r *models.Reservation) error
	PublishBookingRescheduled(r *models.Reservation) error
	PublishBookingCancelled(r *models.Reservation) error
}

type Notifier struct {
	publisher     EventPublisher
	manageBaseURL string
	log           *logger.Logger
}

func New(publisher EventPublisher, manageBaseURL string, log *logger.Logger) *Notifier {
	return &Notifier{
		publisher:     publisher,
		manageBaseURL: manageBaseURL,
		log:           log,
	}
}

// ManageLink builds the guest manage URL for a reservation.
func (n *Notifier) ManageLink(reservationID int64, guestToken string) string {
	return fmt.Sprintf("%s/manage/%d?token=%s", n.manageBaseURL, reservationID, url.QueryEscape(guestToken))
}

// ManageQR renders the manage link as a base64 PNG QR code for the
// confirmation email.
func (n *Notifier) ManageQR(reservationID int64, guestToken string) (string, error) {
	png, err := qrcode.Encode(n.ManageLink(reservationID, guestToken), qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// BookingConfirmed publishes the confirmation event and logs the manage
// link. Meant to run in a goroutine after the booking is committed.
func (n *Notifier) BookingConfirmed(r *models.Reservation, guestToken string) {
	if _, err := n.ManageQR(r.ID, guestToken); err != nil {
		n.log.Warn("NOTIFY", fmt.Sprintf("QR generation failed for reservation %d: %v", r.ID, err))
	}
	n.log.LogReservation("CONFIRMED", r.ID, "manage link "+n.ManageLink(r.ID, guestToken))

	if n.publisher == nil {
		return
	}
	if err := n.publisher.PublishBookingConfirmed(r); err != nil {
		n.log.Warn("KAFKA", fmt.Sprintf("confirmation event for reservation %d not published: %v", r.ID, err))
	}
}

func (n *Notifier) BookingRescheduled(r *models.Reservation) {
	n.log.LogReservation("RESCHEDULED", r.ID, fmt.Sprintf("now %s %s", r.Date, r.StartTime))
	if n.publisher == nil {
		return
	}
	if err := n.publisher.PublishBookingRescheduled(r); err != nil {
		n.log.Warn("KAFKA", fmt.Sprintf("reschedule event for reservation %d not published: %v", r.ID, err))
	}
}

func (n *Notifier) BookingCancelled(r *models.Reservation) {
	n.log.LogReservation("CANCELLED", r.ID, fmt.Sprintf("refund %.2f %s", r.RefundAmount, r.RefundStatus))
	if n.publisher == nil {
		return
	}
	if err := n.publisher.PublishBookingCancelled(r); err != nil {
		n.log.Warn("KAFKA", fmt.Sprintf("cancellation event for reservation %d not published: %v", r.ID, err))
	}
}
