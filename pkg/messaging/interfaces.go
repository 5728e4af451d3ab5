package messaging

import "convometrics-server/pkg/analytics"

// SnapshotPublisher defines the interface for snapshot publishers
type SnapshotPublisher interface {
	PublishSnapshot(snapshot *analytics.MetricsSnapshot) error
	PublishToDeadLetterQueue(snapshot *analytics.MetricsSnapshot) error
	IsConnected() bool
	Connect() error
	Disconnect()
}
