package providers

import (
	"context"
	"fmt"

	"github.com/zatekoja/careflow/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.ResourceEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.ResourceEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannel constants for different event types
const (
	// EventChannelResourceUpdates is the channel for all directory changes
	EventChannelResourceUpdates = "resources:updates"

	// EventChannelHospitalPrefix is the prefix for hospital-specific channels
	EventChannelHospitalPrefix = "hospital:"

	// EventChannelDepartmentPrefix is the prefix for department queue channels
	EventChannelDepartmentPrefix = "department:"
)

// GetHospitalChannel returns the channel name for a specific hospital
func GetHospitalChannel(hospitalID int64) string {
	return fmt.Sprintf("%s%d", EventChannelHospitalPrefix, hospitalID)
}

// GetDepartmentChannel returns the channel name for a department queue
func GetDepartmentChannel(departmentID int64) string {
	return fmt.Sprintf("%s%d", EventChannelDepartmentPrefix, departmentID)
}
