package infra

import (
	"log/slog"

	"auction_go/internal/domain"
)

// MailSink hands an encoded mail to the delivery subsystem. The mail
// subsystem itself lives outside this process boundary; SinkFunc is
// whatever bridge the host wires in.
type MailSink func(house domain.HouseID, to domain.CharacterID, body string, money uint64, items []*domain.Item) error

// Mailer adapts the engine's Notifier port onto a MailSink, encoding
// each notification as the colon-delimited payload existing clients
// parse. Delivery failures are logged, never surfaced into the engine.
type Mailer struct {
	sink MailSink
}

func NewMailer(sink MailSink) *Mailer {
	return &Mailer{sink: sink}
}

func (m *Mailer) send(house domain.HouseID, to domain.CharacterID, payload domain.MailPayload, money uint64, items []*domain.Item) error {
	GlobalMetrics.RecordMail()
	if m.sink == nil {
		slog.Debug("mail queued",
			slog.Uint64("house", uint64(house)),
			slog.Uint64("to", uint64(to)),
			slog.String("body", payload.Encode()),
			slog.Uint64("money", money),
			slog.Int("items", len(items)))
		return nil
	}
	return m.sink(house, to, payload.Encode(), money, items)
}

func (m *Mailer) logged(house domain.HouseID, to domain.CharacterID, payload domain.MailPayload, money uint64, items []*domain.Item) {
	if err := m.send(house, to, payload, money, items); err != nil {
		GlobalMetrics.RecordError()
		slog.Error("mail delivery failed",
			slog.Uint64("house", uint64(house)),
			slog.Uint64("to", uint64(to)),
			slog.Any("error", err))
	}
}

func (m *Mailer) NotifyWon(house domain.HouseID, to domain.CharacterID, payload domain.MailPayload, items []*domain.Item) {
	m.logged(house, to, payload, 0, items)
}

func (m *Mailer) NotifySold(house domain.HouseID, to domain.CharacterID, payload domain.MailPayload, proceeds uint64) {
	m.logged(house, to, payload, proceeds, nil)
}

func (m *Mailer) NotifyOutbid(house domain.HouseID, to domain.CharacterID, payload domain.MailPayload, refund uint64) {
	m.logged(house, to, payload, refund, nil)
}

func (m *Mailer) NotifyExpired(house domain.HouseID, to domain.CharacterID, payload domain.MailPayload, items []*domain.Item) {
	m.logged(house, to, payload, 0, items)
}

func (m *Mailer) NotifyCancelled(house domain.HouseID, to domain.CharacterID, payload domain.MailPayload, items []*domain.Item) {
	m.logged(house, to, payload, 0, items)
}

func (m *Mailer) NotifyInvoice(house domain.HouseID, sale domain.CommoditySale) {
	payload := domain.InvoicePayload(sale.Item, sale.Units, sale.Gross, sale.HouseCut)
	m.logged(house, sale.Seller, payload, sale.Gross-sale.HouseCut+sale.Deposit, nil)
}

// DeliverItems ships commodity batches to the buyer. A vanished buyer
// account is reported so the engine can discard the stacks rather
// than strand them in undeliverable mail.
func (m *Mailer) DeliverItems(house domain.HouseID, to domain.CharacterID, payload domain.MailPayload, items []*domain.Item) error {
	return m.send(house, to, payload, 0, items)
}

func (m *Mailer) DiscardItems(items []*domain.Item) {
	slog.Warn("discarding undeliverable items", slog.Int("stacks", len(items)))
}
