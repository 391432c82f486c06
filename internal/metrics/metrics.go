package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry      *prometheus.Registry
	welcomes      *prometheus.CounterVec
	roleGrants    *prometheus.CounterVec
	statsRefresh  *prometheus.CounterVec
	guildRequests *prometheus.CounterVec
	auditEvents   *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		welcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "welcomer",
			Name:      "welcome_messages_total",
			Help:      "Member joins handled, by payload kind and delivery result.",
		}, []string{"payload", "result"}),
		roleGrants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "welcomer",
			Name:      "auto_role_grants_total",
			Help:      "Auto role attempts by result.",
		}, []string{"result"}),
		statsRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "welcomer",
			Name:      "stats_refresh_total",
			Help:      "Statistics refreshes by outcome.",
		}, []string{"outcome"}),
		guildRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "welcomer",
			Name:      "dashboard_guild_requests_total",
			Help:      "Discord guild list calls made for the dashboard, by status.",
		}, []string{"status"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "welcomer",
			Name:      "audit_events_total",
			Help:      "Dashboard audit entries by level and event.",
		}, []string{"level", "event"}),
	}
	registry.MustRegister(
		m.welcomes,
		m.roleGrants,
		m.statsRefresh,
		m.guildRequests,
		m.auditEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) WelcomeHandled(payload string, sent bool) {
	if m == nil {
		return
	}
	if payload == "" {
		payload = "none"
	}
	result := "sent"
	if !sent {
		result = "not_sent"
	}
	m.welcomes.WithLabelValues(payload, result).Inc()
}

func (m *Metrics) RoleGrants(granted, skipped, failed int) {
	if m == nil {
		return
	}
	m.roleGrants.WithLabelValues("granted").Add(float64(granted))
	m.roleGrants.WithLabelValues("skipped").Add(float64(skipped))
	m.roleGrants.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) StatsRefreshed(outcome string) {
	if m == nil {
		return
	}
	m.statsRefresh.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GuildRequest(status string) {
	if m == nil {
		return
	}
	m.guildRequests.WithLabelValues(status).Inc()
}

func (m *Metrics) AuditRecorded(level, event string) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(level, event).Inc()
}
