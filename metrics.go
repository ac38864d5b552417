package seriallink

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one connection.
type Metrics struct {
	bytesReceived    prometheus.Counter
	bytesSent        prometheus.Counter
	messagesReceived prometheus.Counter
	messagesSent     prometheus.Counter
	readErrors       prometheus.Counter
	readsDiscarded   prometheus.Counter
	writeErrors      prometheus.Counter
	receiving        prometheus.Gauge
}

// newMetrics creates and registers connection metrics. A nil registerer
// disables metrics and returns nil.
func newMetrics(reg prometheus.Registerer, device string) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"device": device}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seriallink",
			Subsystem:   "link",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		bytesReceived:    counter("bytes_received_total", "Bytes read from the serial line"),
		bytesSent:        counter("bytes_sent_total", "Bytes written to the serial line"),
		messagesReceived: counter("messages_received_total", "Framed messages delivered to the sink"),
		messagesSent:     counter("messages_sent_total", "Messages written by Send"),
		readErrors:       counter("read_errors_total", "Read calls that returned an error"),
		readsDiscarded:   counter("reads_discarded_total", "Reads dropped for an empty or oversized count"),
		writeErrors:      counter("write_errors_total", "Failed or short writes"),
		receiving: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "seriallink",
			Subsystem:   "link",
			Name:        "receiving",
			Help:        "1 while the receive loop is running",
			ConstLabels: labels,
		}),
	}

	var err error
	register(reg, &m.bytesReceived, &err)
	register(reg, &m.bytesSent, &err)
	register(reg, &m.messagesReceived, &err)
	register(reg, &m.messagesSent, &err)
	register(reg, &m.readErrors, &err)
	register(reg, &m.readsDiscarded, &err)
	register(reg, &m.writeErrors, &err)
	register(reg, &m.receiving, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register adds *c to reg. When an identical collector is already
// registered, for a connection reopened on the same device, *c is
// replaced by the existing one.
func register[T prometheus.Collector](reg prometheus.Registerer, c *T, errp *error) {
	if *errp != nil {
		return
	}
	err := reg.Register(*c)
	if err == nil {
		return
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			*c = existing
			return
		}
	}
	*errp = err
}

func (m *Metrics) received(n int) {
	if m != nil {
		m.bytesReceived.Add(float64(n))
	}
}

func (m *Metrics) delivered() {
	if m != nil {
		m.messagesReceived.Inc()
	}
}

func (m *Metrics) sent(n int) {
	if m != nil {
		m.bytesSent.Add(float64(n))
		m.messagesSent.Inc()
	}
}

func (m *Metrics) readError() {
	if m != nil {
		m.readErrors.Inc()
	}
}

func (m *Metrics) discarded() {
	if m != nil {
		m.readsDiscarded.Inc()
	}
}

func (m *Metrics) writeError() {
	if m != nil {
		m.writeErrors.Inc()
	}
}

func (m *Metrics) setReceiving(on bool) {
	if m == nil {
		return
	}
	if on {
		m.receiving.Set(1)
	} else {
		m.receiving.Set(0)
	}
}
