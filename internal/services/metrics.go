package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// messagesTotal counts persisted messages by direction and final status.
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_messages_total",
			Help: "Messages stored, by direction and status.",
		},
		[]string{"direction", "status"},
	)

	// broadcastRecipients counts dispatcher outcomes per recipient.
	broadcastRecipients = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_broadcast_recipients_total",
			Help: "Broadcast recipients processed, by final status.",
		},
		[]string{"status"},
	)

	// flowSessions counts chatbot sessions by outcome.
	flowSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_flow_sessions_total",
			Help: "Chatbot flow sessions, by event (started, completed, handoff, aborted).",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(messagesTotal, broadcastRecipients, flowSessions)
}
