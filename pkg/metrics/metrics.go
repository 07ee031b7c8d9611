package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "staker"

// Metrics are the node's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	instructions *prometheus.CounterVec
	transactions *prometheus.CounterVec
	slot         prometheus.Gauge
	epoch        prometheus.Gauge
	history      *prometheus.GaugeVec
	rewardsPaid  prometheus.Counter
	rpcRequests  *prometheus.CounterVec
	slotTime     prometheus.Gauge

	slotTimeMu  sync.Mutex
	slotTimeAvg ewma.MovingAverage
}

func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instructions_total",
			Help:      "Number of processed instructions by program and result",
		}, []string{"program", "result"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Number of processed transactions by result",
		}, []string{"result"}),
		slot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slot",
			Help:      "Current slot of the bank",
		}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch",
			Help:      "Current epoch of the bank",
		}),
		history: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stake_history_lamports",
			Help:      "Cluster stake of the newest stake history entry",
		}, []string{"kind"}),
		rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_paid_lamports_total",
			Help:      "Lamports moved out of rewards pools by redemptions",
		}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Number of served JSON-RPC requests by method and result",
		}, []string{"method", "result"}),
		slotTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slot_processing_seconds",
			Help:      "Moving average of the time spent advancing a slot",
		}),
		slotTimeAvg: ewma.NewMovingAverage(),
	}

	for _, collector := range []prometheus.Collector{m.instructions, m.transactions, m.slot, m.epoch, m.history, m.rewardsPaid, m.rpcRequests, m.slotTime} {
		if err := m.registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveInstruction(program string, err error) {
	if m == nil {
		return
	}
	m.instructions.WithLabelValues(program, resultLabel(err)).Inc()
}

func (m *Metrics) ObserveTransaction(err error) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) SetSlot(slot, epoch uint64) {
	if m == nil {
		return
	}
	m.slot.Set(float64(slot))
	m.epoch.Set(float64(epoch))
}

func (m *Metrics) SetStakeHistory(effective, activating, deactivating uint64) {
	if m == nil {
		return
	}
	m.history.WithLabelValues("effective").Set(float64(effective))
	m.history.WithLabelValues("activating").Set(float64(activating))
	m.history.WithLabelValues("deactivating").Set(float64(deactivating))
}

func (m *Metrics) AddRewardsPaid(lamports uint64) {
	if m == nil {
		return
	}
	m.rewardsPaid.Add(float64(lamports))
}

func (m *Metrics) ObserveRPC(method string, err error) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method, resultLabel(err)).Inc()
}

// ObserveSlotTime folds the duration of one slot advance into the moving
// average.
func (m *Metrics) ObserveSlotTime(d time.Duration) {
	if m == nil {
		return
	}
	m.slotTimeMu.Lock()
	defer m.slotTimeMu.Unlock()
	m.slotTimeAvg.Add(d.Seconds())
	m.slotTime.Set(m.slotTimeAvg.Value())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
