// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/qbmirror/qbmirror/internal/mirror"
)

// MetricsManager owns the prometheus registry and the session collector.
// Metrics are gathered at scrape time from the current mirror snapshot, so no
// counters need maintaining inside the sync path.
type MetricsManager struct {
	registry *prometheus.Registry
}

func NewMetricsManager(session *mirror.Session, poller *mirror.Poller) *MetricsManager {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newSessionCollector(session, poller),
	)

	return &MetricsManager{registry: registry}
}

func (m *MetricsManager) GetRegistry() *prometheus.Registry {
	return m.registry
}

type sessionCollector struct {
	session *mirror.Session
	poller  *mirror.Poller

	torrents     *prometheus.Desc
	visible      *prometheus.Desc
	selected     *prometheus.Desc
	categories   *prometheus.Desc
	dlSpeed      *prometheus.Desc
	upSpeed      *prometheus.Desc
	dhtNodes     *prometheus.Desc
	peerConns    *prometheus.Desc
	freeSpace    *prometheus.Desc
	sessionState *prometheus.Desc
}

func newSessionCollector(session *mirror.Session, poller *mirror.Poller) *sessionCollector {
	return &sessionCollector{
		session: session,
		poller:  poller,
		torrents: prometheus.NewDesc(
			"qbmirror_torrents_total",
			"Number of torrents in the mirror",
			nil, nil,
		),
		visible: prometheus.NewDesc(
			"qbmirror_torrents_visible",
			"Number of torrents passing the active filter and search",
			nil, nil,
		),
		selected: prometheus.NewDesc(
			"qbmirror_torrents_selected",
			"Number of torrents in the selection set",
			nil, nil,
		),
		categories: prometheus.NewDesc(
			"qbmirror_categories_total",
			"Number of categories known to the mirror",
			nil, nil,
		),
		dlSpeed: prometheus.NewDesc(
			"qbmirror_download_speed_bytes",
			"Aggregate download speed reported by the server",
			nil, nil,
		),
		upSpeed: prometheus.NewDesc(
			"qbmirror_upload_speed_bytes",
			"Aggregate upload speed reported by the server",
			nil, nil,
		),
		dhtNodes: prometheus.NewDesc(
			"qbmirror_dht_nodes",
			"DHT nodes reported by the server",
			nil, nil,
		),
		peerConns: prometheus.NewDesc(
			"qbmirror_peer_connections_total",
			"Total peer connections reported by the server",
			nil, nil,
		),
		freeSpace: prometheus.NewDesc(
			"qbmirror_free_space_bytes",
			"Free space on the server's download disk",
			nil, nil,
		),
		sessionState: prometheus.NewDesc(
			"qbmirror_session_status",
			"Sync session status (1 for the active status label)",
			[]string{"status"}, nil,
		),
	}
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.torrents
	ch <- c.visible
	ch <- c.selected
	ch <- c.categories
	ch <- c.dlSpeed
	ch <- c.upSpeed
	ch <- c.dhtNodes
	ch <- c.peerConns
	ch <- c.freeSpace
	ch <- c.sessionState
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.session.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.torrents, prometheus.GaugeValue, float64(len(snap.Torrents)))
	ch <- prometheus.MustNewConstMetric(c.visible, prometheus.GaugeValue, float64(len(c.session.View())))
	ch <- prometheus.MustNewConstMetric(c.selected, prometheus.GaugeValue, float64(len(c.session.SelectedHashes())))
	ch <- prometheus.MustNewConstMetric(c.categories, prometheus.GaugeValue, float64(len(snap.Categories)))
	ch <- prometheus.MustNewConstMetric(c.dlSpeed, prometheus.GaugeValue, float64(snap.ServerState.DlInfoSpeed))
	ch <- prometheus.MustNewConstMetric(c.upSpeed, prometheus.GaugeValue, float64(snap.ServerState.UpInfoSpeed))
	ch <- prometheus.MustNewConstMetric(c.dhtNodes, prometheus.GaugeValue, float64(snap.ServerState.DHTNodes))
	ch <- prometheus.MustNewConstMetric(c.peerConns, prometheus.GaugeValue, float64(snap.ServerState.TotalPeerConns))
	ch <- prometheus.MustNewConstMetric(c.freeSpace, prometheus.GaugeValue, float64(snap.ServerState.FreeSpaceOnDisk))

	current, _ := c.poller.Status()
	for _, status := range []mirror.Status{
		mirror.StatusIdle,
		mirror.StatusAuthenticating,
		mirror.StatusLive,
		mirror.StatusError,
		mirror.StatusStopped,
	} {
		value := 0.0
		if status == current {
			value = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.sessionState, prometheus.GaugeValue, value, string(status))
	}
}
