package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	serialExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "garage",
			Subsystem: "serial",
			Name:      "exchanges_total",
			Help:      "Serial frame exchanges by operation, slave and result.",
		},
		[]string{"op", "slave", "success"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "garage",
			Subsystem: "message",
			Name:      "handled_total",
			Help:      "Inbound node messages by type and result.",
		},
		[]string{"node", "type", "success"},
	)
	vehicleEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "garage",
			Subsystem: "ledger",
			Name:      "vehicle_events_total",
			Help:      "Vehicle lifecycle events (entry, exit, rejections, audits).",
		},
		[]string{"event"},
	)
	fareTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "garage",
			Subsystem: "ledger",
			Name:      "fare_total",
			Help:      "Sum of fares charged on exit.",
		},
	)
	freeSlots = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "garage",
			Subsystem: "occupancy",
			Name:      "free_slots",
			Help:      "Free slots by floor and category.",
		},
		[]string{"floor", "category"},
	)
	carCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "garage",
			Subsystem: "occupancy",
			Name:      "cars",
			Help:      "Cars currently parked by floor.",
		},
		[]string{"floor"},
	)
	gateOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "garage",
			Subsystem: "gate",
			Name:      "operations_total",
			Help:      "Gate open/close operations by result.",
		},
		[]string{"gate", "action", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(serialExchanges, messages, vehicleEvents, fareTotal, freeSlots, carCount, gateOps)
	})
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordSerialExchange(op string, slave byte, success bool) {
	RegisterMetrics()
	serialExchanges.WithLabelValues(op, fmt.Sprintf("0x%02X", slave), strconv.FormatBool(success)).Inc()
}

func RecordMessage(node, msgType string, success bool) {
	RegisterMetrics()
	messages.WithLabelValues(node, msgType, strconv.FormatBool(success)).Inc()
}

func RecordVehicleEvent(event string) {
	RegisterMetrics()
	vehicleEvents.WithLabelValues(event).Inc()
}

func RecordFare(amount float64) {
	RegisterMetrics()
	if amount > 0 {
		fareTotal.Add(amount)
	}
}

func SetFreeSlots(floor, category string, free int) {
	RegisterMetrics()
	freeSlots.WithLabelValues(floor, category).Set(float64(free))
}

func SetCarCount(floor string, n int) {
	RegisterMetrics()
	carCount.WithLabelValues(floor).Set(float64(n))
}

func RecordGate(gate, action string, success bool) {
	RegisterMetrics()
	gateOps.WithLabelValues(gate, action, strconv.FormatBool(success)).Inc()
}
